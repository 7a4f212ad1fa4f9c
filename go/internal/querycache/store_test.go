package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	goleak.VerifyTestMain(m)
}

var listKey = NewKey("tournaments")

// source is a controllable loader. When gated, every call blocks until release
// receives a value for it.
type source struct {
	calls   atomic.Int32
	started chan int
	release chan result
	gated   bool
}

type result struct {
	val string
	err error
}

func newSource(gated bool) *source {
	return &source{
		started: make(chan int, 16),
		release: make(chan result),
		gated:   gated,
	}
}

func (s *source) fetch(ctx context.Context) (string, error) {
	n := int(s.calls.Add(1))
	s.started <- n
	if !s.gated {
		return fmt.Sprintf("v%d", n), nil
	}
	select {
	case r := <-s.release:
		return r.val, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func waitStarted(t *testing.T, src *source) int {
	t.Helper()
	select {
	case n := <-src.started:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not started")
		return 0
	}
}

func waitFor[T any](t *testing.T, sub *Subscription[T], cond func(Snapshot[T]) bool) Snapshot[T] {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed")
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatalf("timed out waiting for snapshot, last: %+v", sub.Current())
		}
	}
}

func ready[T comparable](want T) func(Snapshot[T]) bool {
	return func(s Snapshot[T]) bool {
		return s.Status == StatusReady && s.HasData && s.Data == want && !s.IsFetching
	}
}

func TestSubscribe_DeliversFetchedData(t *testing.T) {
	store := NewStore()
	defer store.Close()

	src := newSource(true)
	sub := Subscribe(store, listKey, src.fetch)
	defer sub.Close()
	waitStarted(t, src)

	first := <-sub.Updates()
	assert.Equal(t, StatusLoading, first.Status)
	assert.True(t, first.IsFetching)
	assert.False(t, first.HasData)

	src.release <- result{val: "v1"}
	snap := waitFor(t, sub, ready("v1"))
	assert.NoError(t, snap.Err)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, snap, sub.Current())
}

func TestSubscribe_FreshDataIsShared(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock))
	defer store.Close()

	src := newSource(false)
	a := Subscribe(store, listKey, src.fetch)
	defer a.Close()
	waitFor(t, a, ready("v1"))

	clock.Advance(10 * time.Second)

	b := Subscribe(store, listKey, src.fetch)
	defer b.Close()
	snap := <-b.Updates()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, "v1", snap.Data)
	assert.False(t, snap.IsFetching)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFetch_ConcurrentCallsShareOneRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	store := NewStore(WithMetrics(metrics))
	defer store.Close()

	src := newSource(true)

	const callers = 5
	var wg sync.WaitGroup
	got := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Fetch(context.Background(), store, listKey, src.fetch)
			assert.NoError(t, err)
			got[i] = v
		}(i)
	}

	waitStarted(t, src)
	// Let every caller attach before the response arrives.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.entries[listKey.String()].waiters == callers
	}, 2*time.Second, 5*time.Millisecond)

	src.release <- result{val: "shared"}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, v := range got {
		assert.Equal(t, "shared", v)
	}
	assert.Equal(t, float64(callers-1), testutil.ToFloat64(metrics.shared.WithLabelValues("tournaments")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.fetches.WithLabelValues("tournaments", OutcomeSuccess)))

	// Fresh now, no new request.
	v, err := Fetch(context.Background(), store, listKey, src.fetch)
	require.NoError(t, err)
	assert.Equal(t, "shared", v)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFetch_ContextCancelled(t *testing.T) {
	store := NewStore()
	defer store.Close()

	src := newSource(true)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, store, listKey, src.fetch)
		errCh <- err
	}()
	waitStarted(t, src)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	src.release <- result{val: "late"}

	// Nobody was waiting any more, so the late result is not stored.
	require.Eventually(t, func() bool {
		snap, ok := store.Peek(listKey)
		return ok && !snap.IsFetching
	}, 2*time.Second, 5*time.Millisecond)
	snap, _ := store.Peek(listKey)
	assert.False(t, snap.HasData)
}

func TestSubscribe_StaleWhileRevalidate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock))
	defer store.Close()

	src := newSource(true)
	a := Subscribe(store, listKey, src.fetch)
	waitStarted(t, src)
	src.release <- result{val: "old"}
	waitFor(t, a, ready("old"))
	a.Close()

	clock.Advance(DefaultStaleTime + time.Second)

	b := Subscribe(store, listKey, src.fetch)
	defer b.Close()
	waitStarted(t, src)

	first := <-b.Updates()
	assert.Equal(t, StatusReady, first.Status)
	assert.Equal(t, "old", first.Data)
	assert.True(t, first.IsFetching)

	src.release <- result{val: "new"}
	var seen []Status
	waitFor(t, b, func(s Snapshot[string]) bool {
		seen = append(seen, s.Status)
		return ready("new")(s)
	})
	assert.NotContains(t, seen, StatusLoading)
}

func TestSubscribe_PollsOnlyWhileSubscribed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock))
	defer store.Close()

	src := newSource(false)
	sub := Subscribe(store, listKey, src.fetch)
	waitFor(t, sub, ready("v1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(DefaultPollInterval)
	waitFor(t, sub, ready("v2"))

	clock.Advance(DefaultPollInterval)
	waitFor(t, sub, ready("v3"))

	sub.Close()
	clock.Advance(DefaultPollInterval)
	clock.Advance(DefaultPollInterval)

	assert.Never(t, func() bool { return src.calls.Load() > 3 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestInvalidate_RefetchesActiveKey(t *testing.T) {
	store := NewStore()
	defer store.Close()

	src := newSource(false)
	sub := Subscribe(store, listKey, src.fetch)
	defer sub.Close()
	waitFor(t, sub, ready("v1"))

	store.InvalidatePrefix(NewKey("tournaments"))
	waitFor(t, sub, ready("v2"))

	// Unrelated prefixes are ignored.
	store.InvalidatePrefix(NewKey("tournament"))
	assert.Never(t, func() bool { return src.calls.Load() > 2 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestInvalidate_DuringInFlightFetchRefetchesOnce(t *testing.T) {
	store := NewStore()
	defer store.Close()

	src := newSource(true)
	sub := Subscribe(store, listKey, src.fetch)
	defer sub.Close()

	waitStarted(t, src)
	store.Invalidate(listKey)
	store.Invalidate(listKey)

	src.release <- result{val: "before-mutation"}
	require.Equal(t, 2, waitStarted(t, src))
	src.release <- result{val: "after-mutation"}

	waitFor(t, sub, ready("after-mutation"))
	assert.Never(t, func() bool { return src.calls.Load() > 2 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestInvalidate_InactiveKeyRefetchesOnNextSubscribe(t *testing.T) {
	store := NewStore()
	defer store.Close()

	src := newSource(false)
	a := Subscribe(store, listKey, src.fetch)
	waitFor(t, a, ready("v1"))
	a.Close()

	store.Invalidate(listKey)
	assert.Equal(t, int32(1), src.calls.Load())

	b := Subscribe(store, listKey, src.fetch)
	defer b.Close()
	waitFor(t, b, ready("v2"))
}

func TestCommit_LastIssuedWins(t *testing.T) {
	store := NewStore()
	defer store.Close()

	key := NewKey("tournament", "7")
	u1 := store.Begin(key)
	u2 := store.Begin(key)

	assert.True(t, store.Commit(u2, "u2"))
	assert.False(t, store.Commit(u1, "u1"))

	snap, ok := store.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "u2", snap.Data)
}

func TestCommit_SupersedesEarlierFetch(t *testing.T) {
	store := NewStore()
	defer store.Close()

	key := NewKey("tournament", "7")
	src := newSource(true)
	sub := Subscribe(store, key, src.fetch)
	defer sub.Close()
	waitStarted(t, src)

	token := store.Begin(key)
	require.True(t, store.Commit(token, "written"))
	waitFor(t, sub, func(s Snapshot[string]) bool { return s.Data == "written" })

	src.release <- result{val: "read-before-write"}
	snap := waitFor(t, sub, func(s Snapshot[string]) bool { return !s.IsFetching })
	assert.Equal(t, "written", snap.Data)
}

func TestUnsubscribe_DiscardsInFlightResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	store := NewStore(WithMetrics(metrics))
	defer store.Close()

	src := newSource(true)
	sub := Subscribe(store, listKey, src.fetch)
	waitStarted(t, src)
	sub.Close()

	_, open := <-sub.Updates()
	for open {
		_, open = <-sub.Updates()
	}

	src.release <- result{val: "orphan"}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.discarded.WithLabelValues("tournaments", DiscardUnsubscribed)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap, ok := store.Peek(listKey)
	require.True(t, ok)
	assert.False(t, snap.HasData)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.subscribers.WithLabelValues("tournaments")))
}

func TestFetchError_KeepsStaleData(t *testing.T) {
	store := NewStore()
	defer store.Close()

	boom := errors.New("service unavailable")
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			return []string{"a"}, nil
		}
		return nil, boom
	}

	sub := Subscribe(store, listKey, fetch)
	defer sub.Close()
	waitFor(t, sub, func(s Snapshot[[]string]) bool { return s.Status == StatusReady && !s.IsFetching })

	store.Invalidate(listKey)
	snap := waitFor(t, sub, func(s Snapshot[[]string]) bool { return s.Status == StatusError })

	assert.ErrorIs(t, snap.Err, boom)
	assert.True(t, snap.HasData)
	assert.Equal(t, []string{"a"}, snap.Data)
}

func TestGC_EvictsUnusedKeys(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock))
	defer store.Close()

	src := newSource(false)
	sub := Subscribe(store, listKey, src.fetch)
	waitFor(t, sub, ready("v1"))
	sub.Close()
	require.Equal(t, 1, store.Len())

	clock.Advance(DefaultGCTime - time.Second)
	assert.Equal(t, 1, store.Len())

	// A new subscriber in the window cancels eviction.
	again := Subscribe(store, listKey, src.fetch)
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Len())
	waitFor(t, again, func(s Snapshot[string]) bool { return s.Status == StatusReady && !s.IsFetching })
	again.Close()

	clock.Advance(DefaultGCTime)
	require.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestIdle_NeverFetches(t *testing.T) {
	sub := Idle[string]()
	snap := <-sub.Updates()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, StatusIdle, sub.Current().Status)

	sub.Close()
	sub.Close()
	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestClose_StopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock))

	src := newSource(true)
	sub := Subscribe(store, listKey, src.fetch)
	other := Subscribe(store, NewKey("tournament", "1"), src.fetch)
	waitStarted(t, src)
	waitStarted(t, src)

	store.Close()
	store.Close()

	for range sub.Updates() {
	}
	for range other.Updates() {
	}
	sub.Close()

	assert.Equal(t, 0, store.Len())

	_, err := Fetch(context.Background(), store, listKey, src.fetch)
	assert.ErrorIs(t, err, ErrStoreClosed)

	late := Subscribe(store, listKey, src.fetch)
	snap := late.Current()
	assert.Equal(t, StatusError, snap.Status)
	assert.ErrorIs(t, snap.Err, ErrStoreClosed)
	late.Close()
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Key
		equal bool
	}{
		{name: "same", a: NewKey("tournament", "7"), b: NewKey("tournament", "7"), equal: true},
		{name: "order matters", a: NewKey("a", "b"), b: NewKey("b", "a")},
		{name: "length", a: NewKey("tournament"), b: NewKey("tournament", "7")},
		{name: "separator ambiguity", a: NewKey("a,b"), b: NewKey("a", "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
			assert.Equal(t, tt.equal, tt.a.String() == tt.b.String())
		})
	}

	assert.True(t, NewKey("tournament", "7", "api-url").HasPrefix(NewKey("tournament", "7")))
	assert.False(t, NewKey("tournaments").HasPrefix(NewKey("tournament")))
	assert.Equal(t, "tournament", NewKey("tournament", "7").Resource())

	parts := []string{"x"}
	k := NewKey(parts...)
	parts[0] = "y"
	assert.Equal(t, "x", k[0])
}
