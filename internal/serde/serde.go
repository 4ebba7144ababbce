// Package serde provides value serializers for byte-oriented backends and
// byte cache providers.
package serde

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Codec converts values of type V to and from bytes.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}

// Compile-time checks.
var (
	_ Codec[struct{}] = JSON[struct{}]{}
	_ Codec[struct{}] = Msgpack[struct{}]{}
	_ Codec[struct{}] = CBOR[struct{}]{}
	_ Codec[[]byte]   = Bytes{}
	_ Codec[string]   = String{}
)

// JSON encodes values with encoding/json.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// Msgpack encodes values with vmihailenco/msgpack.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// CBOR encodes values with fxamacker/cbor using core deterministic
// encoding, so equal values always produce equal bytes. The zero value is
// not ready to use; construct with NewCBOR.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR constructs a CBOR codec.
func NewCBOR[V any]() (CBOR[V], error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("cbor dec mode: %w", err)
	}
	return CBOR[V]{enc: enc, dec: dec}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// Protobuf encodes protocol buffer messages. New must return an empty
// message to decode into.
type Protobuf[T proto.Message] struct {
	New func() T
}

// NewProtobuf returns a codec for messages built by ctor.
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{New: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.New()
	err := proto.Unmarshal(b, m)
	return m, err
}

// Bytes is the identity codec.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores strings as their UTF-8 bytes.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

// ByName returns the codec registered under name: "json", "msgpack" or
// "cbor".
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	case "cbor":
		c, err := NewCBOR[V]()
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("serde: unknown codec %q", name)
	}
}
