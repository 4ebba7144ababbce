// Package codecs selects a compression codec by configuration name.
package codecs

import (
	"fmt"
	"path"
	"strings"

	"github.com/discochess/strata/internal/codec"
	"github.com/discochess/strata/internal/codec/gzipcodec"
	"github.com/discochess/strata/internal/codec/noopcodec"
	"github.com/discochess/strata/internal/codec/zstdcodec"
)

// ByName returns the codec for name: "zstd", "gzip", or "none" (also the
// empty string).
func ByName(name string) (codec.Codec, error) {
	switch name {
	case "zstd":
		return zstdcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "", "none":
		return noopcodec.New(), nil
	default:
		return nil, fmt.Errorf("codec: unknown compression %q", name)
	}
}

// ForPath returns the codec matching the extension of name, or the no-op
// codec when the extension is not a known compression.
func ForPath(name string) codec.Codec {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	for _, c := range []codec.Codec{zstdcodec.New(), gzipcodec.New()} {
		if c.Extension() == ext {
			return c
		}
	}
	return noopcodec.New()
}
