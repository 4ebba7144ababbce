// Package blob holds the value format shared by the byte-oriented point
// stores: a value is serialized with a serde codec and then compressed,
// and is stored under an object name derived from its key.
package blob

import (
	"fmt"
	"strings"

	"github.com/discochess/strata/internal/codec"
	"github.com/discochess/strata/internal/serde"
)

// Format encodes values of type V for storage as objects or files.
type Format[V any] struct {
	serde serde.Codec[V]
	codec codec.Codec
}

// NewFormat combines a serializer and a compressor.
func NewFormat[V any](s serde.Codec[V], c codec.Codec) Format[V] {
	return Format[V]{serde: s, codec: c}
}

// Encode serializes and compresses v.
func (f Format[V]) Encode(v V) ([]byte, error) {
	raw, err := f.serde.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return codec.Compress(f.codec, raw)
}

// Decode reverses Encode.
func (f Format[V]) Decode(data []byte) (V, error) {
	raw, err := codec.DecompressBytes(f.codec, data)
	if err != nil {
		var zero V
		return zero, err
	}
	v, err := f.serde.Decode(raw)
	if err != nil {
		return v, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}

// Name returns the object name for an encoded key, with the compression
// extension appended.
func (f Format[V]) Name(encoded string) string {
	if ext := f.codec.Extension(); ext != "" {
		return encoded + "." + ext
	}
	return encoded
}

// NormalizePrefix turns "a/b" and "a/b/" into "a/b/", and "" into "".
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}
