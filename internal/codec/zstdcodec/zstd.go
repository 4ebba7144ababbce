// Package zstdcodec compresses with zstd. Whole values go through one
// shared encoder and decoder; streams get a single-goroutine decoder each.
package zstdcodec

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/discochess/strata/internal/codec"
)

var _ codec.BlockCodec = (*Codec)(nil)

// DefaultMaxDecodedSize caps how large one decoded value may grow.
const DefaultMaxDecodedSize = 64 << 20

// Codec implements zstd compression.
type Codec struct {
	level      zstd.EncoderLevel
	maxDecoded uint64

	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	err     error
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the encoder level.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) { c.level = level }
}

// WithMaxDecodedSize caps the decoded size of one value or stream.
func WithMaxDecodedSize(n uint64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecoded = n
		}
	}
}

// New returns a zstd codec.
func New(opts ...Option) *Codec {
	c := &Codec{level: zstd.SpeedDefault, maxDecoded: DefaultMaxDecodedSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) init() error {
	c.once.Do(func() {
		c.encoder, c.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if c.err != nil {
			return
		}
		c.decoder, c.err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(c.maxDecoded))
	})
	return c.err
}

// EncodeAll compresses src as one frame.
func (c *Codec) EncodeAll(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return c.encoder.EncodeAll(src, nil), nil
}

// DecodeAll decompresses every frame in src.
func (c *Codec) DecodeAll(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return c.decoder.DecodeAll(src, nil)
}

// Reader wraps r to decompress zstd data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(c.maxDecoded),
	)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// Writer wraps w to compress data with zstd.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}
