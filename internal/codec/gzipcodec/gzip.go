// Package gzipcodec compresses with gzip, reusing writers across values.
package gzipcodec

import (
	"compress/gzip"
	"io"
	"sync"

	"github.com/discochess/strata/internal/codec"
)

var _ codec.Codec = (*Codec)(nil)

// Codec implements gzip compression at a fixed level.
type Codec struct {
	level int
	pool  sync.Pool
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the compression level, gzip.HuffmanOnly through
// gzip.BestCompression. An invalid level makes Writer fail.
func WithLevel(level int) Option {
	return func(c *Codec) { c.level = level }
}

// New returns a gzip codec.
func New(opts ...Option) *Codec {
	c := &Codec{level: gzip.DefaultCompression}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reader wraps r to decompress gzip data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Writer wraps w to compress data with gzip. Closing the returned writer
// flushes it and hands it back for reuse.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	if zw, ok := c.pool.Get().(*gzip.Writer); ok {
		zw.Reset(w)
		return &pooledWriter{Writer: zw, pool: &c.pool}, nil
	}
	zw, err := gzip.NewWriterLevel(w, c.level)
	if err != nil {
		return nil, err
	}
	return &pooledWriter{Writer: zw, pool: &c.pool}, nil
}

// Extension returns "gz".
func (c *Codec) Extension() string {
	return "gz"
}

type pooledWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

func (w *pooledWriter) Close() error {
	if w.Writer == nil {
		return nil
	}
	err := w.Writer.Close()
	w.pool.Put(w.Writer)
	w.Writer = nil
	return err
}
