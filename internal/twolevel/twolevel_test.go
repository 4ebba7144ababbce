package twolevel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/strata/internal/interval"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/rangecache"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/memstore"
)

// countingStore records range reads against the wrapped store and can be
// told to fail them. afterRead runs once a range read has succeeded and
// beforeDelete runs ahead of each delete.
type countingStore struct {
	*memstore.Ranged[key.Name, key.Int64, string]
	mu           sync.Mutex
	ranges       []interval.Interval[key.Int64]
	fail         error
	delay        time.Duration
	inFlight     atomic.Int32
	peak         atomic.Int32
	afterRead    func()
	beforeDelete func()
}

func newCounting() *countingStore {
	return &countingStore{Ranged: memstore.NewRanged[key.Name, key.Int64, string]()}
}

func (c *countingStore) ValuesInRange(ctx context.Context, p key.Name, lo, hi key.Int64) (*ordered.Map[key.Int64, string], error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		old := c.peak.Load()
		if n <= old || c.peak.CompareAndSwap(old, n) {
			break
		}
	}
	c.mu.Lock()
	c.ranges = append(c.ranges, interval.Closed(lo, hi))
	fail := c.fail
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	m, err := c.Ranged.ValuesInRange(ctx, p, lo, hi)
	if err == nil && c.afterRead != nil {
		c.afterRead()
	}
	return m, err
}

func (c *countingStore) Delete(ctx context.Context, p key.Name, k key.Int64) error {
	if c.beforeDelete != nil {
		c.beforeDelete()
	}
	return c.Ranged.Delete(ctx, p, k)
}

// once wraps fn so only its first call runs it.
func once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}

func (c *countingStore) calls() []interval.Interval[key.Int64] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interval.Interval[key.Int64](nil), c.ranges...)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = nil
}

func seed(t *testing.T, s store.RangedStore[key.Name, key.Int64, string], p key.Name, keys ...int64) {
	t.Helper()
	for _, k := range keys {
		if err := s.Put(context.Background(), p, key.Int64(k), "v"); err != nil {
			t.Fatalf("seed Put(%d) error = %v", k, err)
		}
	}
}

func keysOf(m *ordered.Map[key.Int64, string]) []int64 {
	out := []int64{}
	for _, k := range m.Keys() {
		out = append(out, int64(k))
	}
	return out
}

func setup(opts ...Option) (*Store[key.Name, key.Int64, string], *countingStore, *rangecache.Cache[key.Name, key.Int64, string]) {
	auth := newCounting()
	cache := rangecache.New[key.Name, key.Int64, string](memstore.NewRanged[key.Name, key.Int64, string]())
	return New[key.Name, key.Int64, string](auth, cache, opts...), auth, cache
}

func TestStore_SecondReadServedFromMirror(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 5, 10, 20)

	got, err := s.ValuesInRange(ctx, "p", 0, 15)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 5, 10}, keysOf(got)); diff != "" {
		t.Errorf("first read mismatch (-want +got):\n%s", diff)
	}
	if n := len(auth.calls()); n != 1 {
		t.Errorf("authoritative calls = %d, want 1", n)
	}
	if diff := cmp.Diff([]interval.Interval[key.Int64]{interval.Closed[key.Int64](0, 15)}, cache.Coverage("p")); diff != "" {
		t.Errorf("coverage mismatch (-want +got):\n%s", diff)
	}

	auth.reset()
	got, err = s.ValuesInRange(ctx, "p", 2, 12)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{5, 10}, keysOf(got)); diff != "" {
		t.Errorf("second read mismatch (-want +got):\n%s", diff)
	}
	if calls := auth.calls(); len(calls) != 0 {
		t.Errorf("authoritative calls = %v, want none", calls)
	}
}

func TestStore_FetchesOnlyUncachedPieces(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 5, 10, 15, 20, 25)

	if _, err := s.ValuesInRange(ctx, "p", 5, 10); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if _, err := s.ValuesInRange(ctx, "p", 15, 20); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	auth.reset()

	got, err := s.ValuesInRange(ctx, "p", 0, 30)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 5, 10, 15, 20, 25}, keysOf(got)); diff != "" {
		t.Errorf("merged read mismatch (-want +got):\n%s", diff)
	}

	want := map[interval.Interval[key.Int64]]bool{
		interval.Closed[key.Int64](0, 4):   true,
		interval.Closed[key.Int64](11, 14): true,
		interval.Closed[key.Int64](21, 30): true,
	}
	calls := auth.calls()
	if len(calls) != len(want) {
		t.Fatalf("authoritative calls = %v, want %d", calls, len(want))
	}
	for _, c := range calls {
		if !want[c] {
			t.Errorf("unexpected authoritative read %v", c)
		}
	}
	if diff := cmp.Diff([]interval.Interval[key.Int64]{interval.Closed[key.Int64](0, 30)}, cache.Coverage("p")); diff != "" {
		t.Errorf("coverage mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_FailureLeavesCoverage(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 2, 3)

	if _, err := s.ValuesInRange(ctx, "p", 1, 1); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	before := cache.Coverage("p")

	boom := store.Wrap("test", "valuesInRange", errors.New("boom"))
	auth.fail = boom
	if _, err := s.ValuesInRange(ctx, "p", 0, 10); !errors.Is(err, boom) {
		t.Fatalf("ValuesInRange() error = %v, want %v", err, boom)
	}
	if diff := cmp.Diff(before, cache.Coverage("p")); diff != "" {
		t.Errorf("coverage changed after failure (-want +got):\n%s", diff)
	}
}

func TestStore_CancellationLeavesCoverage(t *testing.T) {
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 2, 3)
	auth.delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.ValuesInRange(ctx, "p", 0, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ValuesInRange() error = %v, want context.Canceled", err)
	}
	if cov := cache.Coverage("p"); len(cov) != 0 {
		t.Errorf("coverage = %v after cancellation, want empty", cov)
	}
}

func TestStore_FetchParallelism(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup(WithFetchParallelism(2))
	auth.delay = 20 * time.Millisecond

	// Cover every even key so a read of [0, 20] leaves ten odd gaps.
	for k := int64(0); k <= 20; k += 2 {
		if err := cache.Put(ctx, "p", key.Int64(k), "even"); err != nil {
			t.Fatalf("cache Put() error = %v", err)
		}
	}
	if _, err := s.ValuesInRange(ctx, "p", 0, 20); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if n := len(auth.calls()); n != 10 {
		t.Errorf("authoritative calls = %d, want 10", n)
	}
	if peak := auth.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent fetches = %d, want <= 2", peak)
	}
}

func TestStore_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 2, 3)

	if _, err := s.ValuesInRange(ctx, "p", 1, 3); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if err := s.Delete(ctx, "p", 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	want := []interval.Interval[key.Int64]{
		interval.Closed[key.Int64](1, 1),
		interval.Closed[key.Int64](3, 3),
	}
	if diff := cmp.Diff(want, cache.Coverage("p")); diff != "" {
		t.Errorf("coverage mismatch (-want +got):\n%s", diff)
	}

	got, err := s.ValuesInRange(ctx, "p", 1, 3)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, keysOf(got)); diff != "" {
		t.Errorf("read after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_DeleteDuringFillIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 2, 3)

	// The fill has already read key 2 when the delete lands.
	auth.afterRead = once(func() {
		if err := s.Delete(ctx, "p", 2); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
	})
	if _, err := s.ValuesInRange(ctx, "p", 1, 3); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if cov := cache.Coverage("p"); len(cov) != 0 {
		t.Errorf("coverage = %v after a fill raced a delete, want empty", cov)
	}

	got, err := s.ValuesInRange(ctx, "p", 1, 3)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, keysOf(got)); diff != "" {
		t.Errorf("read after delete mismatch (-want +got):\n%s", diff)
	}
	got, err = s.ValuesInRange(ctx, "p", 1, 3)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, keysOf(got)); diff != "" {
		t.Errorf("mirrored read mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_FillBetweenInvalidateAndDelete(t *testing.T) {
	ctx := context.Background()
	s, auth, cache := setup()
	seed(t, auth, "p", 1, 2, 3)

	// A read slips in after Delete has invalidated key 2 but before the
	// authoritative delete, so it still sees 2.
	auth.beforeDelete = once(func() {
		got, err := s.ValuesInRange(ctx, "p", 1, 3)
		if err != nil {
			t.Errorf("ValuesInRange() error = %v", err)
			return
		}
		if diff := cmp.Diff([]int64{1, 2, 3}, keysOf(got)); diff != "" {
			t.Errorf("read during delete mismatch (-want +got):\n%s", diff)
		}
	})
	if err := s.Delete(ctx, "p", 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := []interval.Interval[key.Int64]{
		interval.Closed[key.Int64](1, 1),
		interval.Closed[key.Int64](3, 3),
	}
	if diff := cmp.Diff(want, cache.Coverage("p")); diff != "" {
		t.Errorf("coverage mismatch (-want +got):\n%s", diff)
	}
	got, err := s.ValuesInRange(ctx, "p", 1, 3)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, keysOf(got)); diff != "" {
		t.Errorf("read after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_PutDoesNotTouchMirror(t *testing.T) {
	ctx := context.Background()
	s, auth, _ := setup()
	seed(t, auth, "p", 1)

	if _, err := s.ValuesInRange(ctx, "p", 0, 10); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if err := s.Put(ctx, "p", 5, "new"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok, _ := auth.Get(ctx, "p", 5); !ok {
		t.Errorf("Put did not reach the authoritative store")
	}

	// The covered range keeps answering from the mirror.
	got, err := s.ValuesInRange(ctx, "p", 0, 10)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1}, keysOf(got)); diff != "" {
		t.Errorf("covered read mismatch (-want +got):\n%s", diff)
	}

	if err := s.Invalidate(ctx, "p", 5); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	got, err = s.ValuesInRange(ctx, "p", 0, 10)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 5}, keysOf(got)); diff != "" {
		t.Errorf("read after invalidate mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_AboveBelow(t *testing.T) {
	ctx := context.Background()
	s, auth, _ := setup()
	seed(t, auth, "p", -5, 0, 7)

	above, err := s.ValuesAbove(ctx, "p", 0)
	if err != nil {
		t.Fatalf("ValuesAbove() error = %v", err)
	}
	if diff := cmp.Diff([]int64{0, 7}, keysOf(above)); diff != "" {
		t.Errorf("ValuesAbove mismatch (-want +got):\n%s", diff)
	}
	below, err := s.ValuesBelow(ctx, "p", 0)
	if err != nil {
		t.Fatalf("ValuesBelow() error = %v", err)
	}
	if diff := cmp.Diff([]int64{-5, 0}, keysOf(below)); diff != "" {
		t.Errorf("ValuesBelow mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_StringOpenPieces(t *testing.T) {
	ctx := context.Background()
	auth := memstore.NewRanged[key.Name, key.String, string]()
	cache := rangecache.New[key.Name, key.String, string](memstore.NewRanged[key.Name, key.String, string]())
	s := New[key.Name, key.String, string](auth, cache)
	for _, k := range []string{"a", "m", "ma", "z"} {
		auth.Put(ctx, "p", key.NewString(k), k)
	}

	if _, err := s.ValuesInRange(ctx, "p", key.NewString("a"), key.NewString("z")); err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if err := s.Delete(ctx, "p", key.NewString("m")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := s.ValuesInRange(ctx, "p", key.NewString("a"), key.NewString("z"))
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	var keys []string
	for _, k := range got.Keys() {
		keys = append(keys, k.Value())
	}
	if diff := cmp.Diff([]string{"a", "ma", "z"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	mem := stats.NewMemory()
	s, auth, _ := setup(WithStats(mem))
	seed(t, auth, "p", 1)

	s.ValuesInRange(ctx, "p", 0, 5)
	s.ValuesInRange(ctx, "p", 0, 5)
	if got := mem.Counter(stats.MetricAuthoritativeFetches); got != 1 {
		t.Errorf("fetch counter = %d, want 1", got)
	}
	if got := len(mem.Observations(stats.MetricFetchSeconds)); got != 1 {
		t.Errorf("fetch observations = %d, want 1", got)
	}
}
