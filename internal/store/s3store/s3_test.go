package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/go-cmp/cmp"

	"github.com/discochess/strata/internal/codec/zstdcodec"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/blob"
)

// fakeS3 is an in-memory bucket. List pages hold pageSize keys.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	fail     error
}

func newFake() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := f.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	out := &s3.ListObjectsV2Output{}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newStore(t *testing.T, fake *fakeS3, opts ...Option) *Store[key.Name, string] {
	t.Helper()
	opts = append(opts, WithClient(fake))
	s, err := New[key.Name, string](context.Background(), "bucket", blob.NewFormat[string](serde.String{}, zstdcodec.New()), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := newStore(t, fake, WithPrefix("data/v1"))

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get() on empty bucket = %v, %v, want absent", ok, err)
	}
	if err := s.Put(ctx, "k", "value"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["data/v1/k.zst"]; !ok {
		t.Errorf("object not stored under data/v1/k.zst: %v", fake.objects)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || got != "value" {
		t.Fatalf("Get() = %q, %v, %v, want value", got, ok, err)
	}
	if ok, err := s.ContainsKey(ctx, "k"); err != nil || !ok {
		t.Errorf("ContainsKey() = %v, %v, want true", ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, err := s.ContainsKey(ctx, "k"); err != nil || ok {
		t.Errorf("ContainsKey() after Delete = %v, %v, want false", ok, err)
	}
}

func TestStore_ValuesPaginates(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := newStore(t, fake, WithPrefix("p"))
	fake.objects["other/x.zst"] = []byte("outside the prefix")

	if empty, err := s.IsEmpty(ctx); err != nil || !empty {
		t.Fatalf("IsEmpty() = %v, %v, want true", empty, err)
	}
	for _, k := range []key.Name{"a", "b", "c", "d", "e"} {
		if err := s.Put(ctx, k, "v"+string(k)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	got, err := s.Values(ctx)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"va", "vb", "vc", "vd", "ve"}, got); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
	if empty, _ := s.IsEmpty(ctx); empty {
		t.Error("IsEmpty() = true with objects stored")
	}
}

func TestStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := newStore(t, fake)
	fake.fail = errors.New("503 slow down")

	_, _, err := s.Get(ctx, "k")
	if !store.IsBackendFailure(err) {
		t.Errorf("Get() error = %v, want backend failure", err)
	}
	if err := s.Put(ctx, "k", "v"); !store.IsBackendFailure(err) {
		t.Errorf("Put() error = %v, want backend failure", err)
	}
}

func TestStore_Canceled(t *testing.T) {
	s := newStore(t, newFake())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"prefix", "prefix/"},
		{"a/b/c/", "a/b/c/"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var o options
			if err := WithPrefix(tt.input)(&o); err != nil {
				t.Fatalf("WithPrefix() error = %v", err)
			}
			if o.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", o.prefix, tt.want)
			}
		})
	}
}

func TestWithEndpoint_Empty(t *testing.T) {
	_, err := New[key.Name, string](context.Background(), "bucket",
		blob.NewFormat[string](serde.String{}, zstdcodec.New()), WithEndpoint(""))
	if err == nil {
		t.Error("New() with empty endpoint should return error")
	}
}

func TestStore_MaxConcurrency(t *testing.T) {
	if got := newStore(t, newFake()).MaxConcurrency(); got != store.Unbounded {
		t.Errorf("MaxConcurrency() = %d, want Unbounded", got)
	}
	if got := newStore(t, newFake(), WithMaxConcurrency(16)).MaxConcurrency(); got != 16 {
		t.Errorf("MaxConcurrency() = %d, want 16", got)
	}
}
