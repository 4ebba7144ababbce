// Package noopcodec stores values uncompressed.
package noopcodec

import (
	"io"

	"github.com/discochess/strata/internal/codec"
)

var _ codec.BlockCodec = (*Codec)(nil)

// Codec passes bytes through.
type Codec struct{}

// New returns the pass-through codec.
func New() *Codec {
	return &Codec{}
}

// EncodeAll returns src.
func (*Codec) EncodeAll(src []byte) ([]byte, error) { return src, nil }

// DecodeAll returns src.
func (*Codec) DecodeAll(src []byte) ([]byte, error) { return src, nil }

// Reader returns r. Closing it does not close r.
func (*Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Writer returns w. Closing it does not close w.
func (*Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// Extension is empty: uncompressed objects carry no suffix.
func (*Codec) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
