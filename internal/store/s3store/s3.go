// Package s3store implements an AWS S3 point store. Each key is one
// object under an optional prefix; values are serialized and compressed
// before upload.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/blob"
)

const backend = "s3"

// Compile-time check that Store implements store.Store.
var _ store.Store[key.Name, []byte] = (*Store[key.Name, []byte])(nil)

// API is the subset of the S3 client used by Store.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store is an AWS S3 point store.
type Store[K key.Partition, V any] struct {
	client API
	bucket string
	prefix string
	format blob.Format[V]
	limit  int
}

// Option configures a Store.
type Option func(*options) error

type options struct {
	prefix         string
	region         string
	endpoint       string
	client         API
	maxConcurrency int
}

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(o *options) error {
		o.prefix = blob.NormalizePrefix(prefix)
		return nil
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *options) error {
		o.region = region
		return nil
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(o *options) error {
		if endpoint == "" {
			return errors.New("s3store: empty endpoint")
		}
		o.endpoint = endpoint
		return nil
	}
}

// WithClient uses client instead of one built from the default AWS
// configuration. Region and endpoint options are then ignored.
func WithClient(client API) Option {
	return func(o *options) error {
		o.client = client
		return nil
	}
}

// WithMaxConcurrency sets the limit reported by MaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(o *options) error {
		o.maxConcurrency = n
		return nil
	}
}

// New creates an S3 store. The bucket must already exist.
func New[K key.Partition, V any](ctx context.Context, bucketName string, format blob.Format[V], opts ...Option) (*Store[K, V], error) {
	o := options{maxConcurrency: store.Unbounded}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	client := o.client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(o.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(cfg, func(so *s3.Options) {
			if o.endpoint != "" {
				so.BaseEndpoint = aws.String(o.endpoint)
				so.UsePathStyle = true
			}
		})
	}

	return &Store[K, V]{
		client: client,
		bucket: bucketName,
		prefix: o.prefix,
		format: format,
		limit:  o.maxConcurrency,
	}, nil
}

// Get downloads and decodes the object for k.
func (s *Store[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(k)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return zero, false, nil
		}
		return zero, false, store.Wrap(backend, "get", err)
	}
	v, err := s.decode(result)
	if err != nil {
		return zero, false, store.Wrap(backend, "get", err)
	}
	return v, true, nil
}

// Put encodes v and uploads it as the object for k.
func (s *Store[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.format.Encode(v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(k)),
		Body:   bytes.NewReader(data),
	})
	return store.Wrap(backend, "put", err)
}

// Delete removes the object for k. S3 does not report deletes of absent
// objects as errors.
func (s *Store[K, V]) Delete(ctx context.Context, k K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(k)),
	})
	return store.Wrap(backend, "delete", err)
}

// ContainsKey issues a HEAD request for k.
func (s *Store[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(k)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, store.Wrap(backend, "containsKey", err)
	}
	return true, nil
}

// IsEmpty lists at most one object under the prefix.
func (s *Store[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, store.Wrap(backend, "isEmpty", err)
	}
	return len(out.Contents) == 0, nil
}

// Values lists the prefix and downloads every object.
func (s *Store[K, V]) Values(ctx context.Context) ([]V, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []V
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, store.Wrap(backend, "values", err)
		}
		for _, obj := range page.Contents {
			result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				var nsk *types.NoSuchKey
				if errors.As(err, &nsk) {
					continue // deleted since listing
				}
				return nil, store.Wrap(backend, "values", err)
			}
			v, err := s.decode(result)
			if err != nil {
				return nil, store.Wrap(backend, "values", fmt.Errorf("%s: %w", aws.ToString(obj.Key), err))
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store[K, V]) decode(result *s3.GetObjectOutput) (V, error) {
	defer result.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		var zero V
		return zero, fmt.Errorf("reading object: %w", err)
	}
	return s.format.Decode(buf.Bytes())
}

// MaxConcurrency returns the configured limit, store.Unbounded by default.
func (s *Store[K, V]) MaxConcurrency() int { return s.limit }

// Close releases resources.
func (s *Store[K, V]) Close() error {
	// S3 client doesn't need explicit closing.
	return nil
}

// objectKey returns the full object key for k.
func (s *Store[K, V]) objectKey(k K) string {
	return s.prefix + s.format.Name(k.Key())
}
