// Package codec provides compression for values persisted by byte-oriented
// backends (flat files and object stores).
package codec

import (
	"bytes"
	"fmt"
	"io"
)

// Codec compresses streams. Extension names the file suffix, without a
// dot, that objects written through it carry; it is empty when the codec
// does not compress.
type Codec interface {
	Reader(r io.Reader) (io.ReadCloser, error)
	Writer(w io.Writer) (io.WriteCloser, error)
	Extension() string
}

// BlockCodec is a Codec that can also compress a whole value in one call.
// Point stores hold one small value per object, so Compress and
// DecompressBytes prefer it over building a stream per value.
type BlockCodec interface {
	Codec
	EncodeAll(src []byte) ([]byte, error)
	DecodeAll(src []byte) ([]byte, error)
}

// Compress returns data compressed with c.
func Compress(c Codec, data []byte) ([]byte, error) {
	if bc, ok := c.(BlockCodec); ok {
		return bc.EncodeAll(data)
	}

	var buf bytes.Buffer
	w, err := c.Writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flushing compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressBytes reverses Compress.
func DecompressBytes(c Codec, data []byte) ([]byte, error) {
	if bc, ok := c.(BlockCodec); ok {
		out, err := bc.DecodeAll(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing: %w", err)
		}
		return out, nil
	}
	return Decompress(c, bytes.NewReader(data))
}

// Decompress reads all of r through c.
func Decompress(c Codec, r io.Reader) ([]byte, error) {
	dr, err := c.Reader(r)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dr.Close()

	data, err := io.ReadAll(dr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return data, nil
}
