// Package loader bulk-loads JSON Lines records into a ranged store.
//
// Each line is an object with "partition", "key" and "value" fields. A
// string value is stored as its text; any other JSON value is stored as
// its raw encoding. Sources ending in .zst or .gz are decompressed.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discochess/strata/internal/codec/codecs"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
)

const (
	// DefaultBatchSize is the number of entries written per PutAll call.
	DefaultBatchSize = 1000

	// DefaultWorkers is the number of batches written concurrently.
	DefaultWorkers = 4

	// DefaultResponseHeaderTimeout bounds the wait for a remote source.
	DefaultResponseHeaderTimeout = 30 * time.Second

	maxLine = 10 * 1024 * 1024
)

var (
	// ErrMissingPartition is returned for a record without a partition when
	// no default partition is configured.
	ErrMissingPartition = errors.New("loader: record has no partition")

	// ErrMissingKey is returned for a record without a key.
	ErrMissingKey = errors.New("loader: record has no key")
)

// Writer is the part of a ranged store the loader writes through.
type Writer interface {
	PutAll(ctx context.Context, p key.Name, values *ordered.Map[key.String, []byte]) error
}

// Loader streams records into a Writer in batches.
type Loader struct {
	writer    Writer
	batchSize int
	workers   int
	partition string
	progress  ProgressFunc
	client    *http.Client
	logger    *zap.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithBatchSize sets how many entries of one partition are written at once.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithWorkers sets how many batches are written concurrently. Batches of
// one partition are always written in input order.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithPartition sets the partition for records that carry none.
func WithPartition(name string) Option {
	return func(l *Loader) { l.partition = name }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(l *Loader) { l.progress = fn }
}

// WithHTTPClient sets the client used for http and https sources.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader writing to w.
func New(w Writer, opts ...Option) *Loader {
	l := &Loader{
		writer:    w,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		progress:  func(Progress) {},
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("loader")
	return l
}

// Summary describes a finished load.
type Summary struct {
	RecordsRead    int64
	RecordsWritten int64
	Partitions     int
	Batches        int
	Elapsed        time.Duration
}

// LoadSource loads from a local path or an http(s) URL.
func (l *Loader) LoadSource(ctx context.Context, source string) (Summary, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.LoadURL(ctx, source)
	}
	return l.LoadFile(ctx, source)
}

// LoadFile loads the file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("opening source file: %w", err)
	}
	defer file.Close()

	var total int64
	if info, err := file.Stat(); err == nil {
		total = info.Size()
	}
	return l.load(ctx, path, file, total)
}

// LoadURL streams the body of a GET request to url.
func (l *Loader) LoadURL(ctx context.Context, url string) (Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Summary{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return l.load(ctx, url, resp.Body, resp.ContentLength)
}

// Load reads uncompressed records from r. On error, batches handed to the
// writer before the failing line may already have been written.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Summary, error) {
	return l.load(ctx, "", r, 0)
}

func (l *Loader) load(ctx context.Context, name string, r io.Reader, total int64) (Summary, error) {
	start := time.Now()
	var counted countingReader
	counted.r = r

	dr, err := codecs.ForPath(name).Reader(&counted)
	if err != nil {
		return Summary{}, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dr.Close()

	sum, err := l.process(ctx, dr, func(p Progress) {
		p.BytesRead, p.BytesTotal, p.StartTime = counted.n.Load(), total, start
		l.progress(p)
	})
	sum.Elapsed = time.Since(start)
	if err != nil {
		l.progress(Progress{Phase: PhaseError, Error: err, StartTime: start})
		return sum, err
	}

	l.progress(Progress{
		Phase:          PhaseDone,
		BytesRead:      counted.n.Load(),
		BytesTotal:     total,
		RecordsRead:    sum.RecordsRead,
		RecordsWritten: sum.RecordsWritten,
		Batches:        sum.Batches,
		StartTime:      start,
	})
	l.logger.Info("load finished",
		zap.String("source", name),
		zap.Int64("records", sum.RecordsWritten),
		zap.Int("partitions", sum.Partitions),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

type record struct {
	Partition string          `json:"partition"`
	Key       *string         `json:"key"`
	Value     json.RawMessage `json:"value"`
}

func (rec record) value() ([]byte, error) {
	raw := bytes.TrimSpace(rec.Value)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return append([]byte(nil), raw...), nil
}

// collector accumulates the pending batch of one partition. done is closed
// when its most recent batch has been written, so the next batch of the
// same partition waits for it.
type collector struct {
	pending *ordered.Map[key.String, []byte]
	done    chan struct{}
}

func (l *Loader) process(ctx context.Context, r io.Reader, report ProgressFunc) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	var (
		sum        Summary
		written    atomic.Int64
		collectors = make(map[string]*collector)
	)

	flush := func(p string, c *collector) {
		batch, prev := c.pending, c.done
		done := make(chan struct{})
		c.pending, c.done = ordered.New[key.String, []byte](), done
		sum.Batches++

		g.Go(func() error {
			defer close(done)
			if prev != nil {
				select {
				case <-prev:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := l.writer.PutAll(gctx, key.Name(p), batch); err != nil {
				return fmt.Errorf("writing %d entries to %s: %w", batch.Len(), p, err)
			}
			written.Add(int64(batch.Len()))
			return nil
		})
	}

	readErr := func() error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)

		var line int64
		for scanner.Scan() {
			line++
			if err := gctx.Err(); err != nil {
				return err
			}
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}

			var rec record
			if err := json.Unmarshal(text, &rec); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			p := rec.Partition
			if p == "" {
				p = l.partition
			}
			if p == "" {
				return fmt.Errorf("line %d: %w", line, ErrMissingPartition)
			}
			if rec.Key == nil {
				return fmt.Errorf("line %d: %w", line, ErrMissingKey)
			}
			v, err := rec.value()
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}

			c, ok := collectors[p]
			if !ok {
				c = &collector{pending: ordered.New[key.String, []byte]()}
				collectors[p] = c
			}
			c.pending.Put(key.NewString(*rec.Key), v)
			sum.RecordsRead++
			if c.pending.Len() >= l.batchSize {
				flush(p, c)
			}
			if sum.RecordsRead%100000 == 0 {
				report(Progress{Phase: PhaseLoad, RecordsRead: sum.RecordsRead, Batches: sum.Batches})
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading source: %w", err)
		}

		for p, c := range collectors {
			if c.pending.Len() > 0 {
				flush(p, c)
			}
		}
		return nil
	}()

	err := g.Wait()
	sum.RecordsWritten = written.Load()
	sum.Partitions = len(collectors)
	if err != nil {
		return sum, err
	}
	return sum, readErr
}
