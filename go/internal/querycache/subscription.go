package querycache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Subscription is one consumer's view of a key. Updates delivers the latest snapshot;
// intermediate snapshots may be skipped when the consumer is slower than the store.
type Subscription[T any] struct {
	store *Store
	entry *entry
	id    uint64

	mu      sync.Mutex
	ch      chan Snapshot[T]
	current Snapshot[T]
	closed  bool
}

// Subscribe registers a consumer for key and returns immediately with the current
// snapshot queued on Updates. fetch replaces any loader previously registered for key.
func Subscribe[T any](s *Store, key Key, fetch func(ctx context.Context) (T, error)) *Subscription[T] {
	sub := &Subscription[T]{
		store: s,
		ch:    make(chan Snapshot[T], 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.store = nil
		sub.deliver(state{status: StatusError, err: ErrStoreClosed})
		return sub
	}

	e := s.entryLocked(key, wrap(fetch))
	sub.entry = e
	sub.id = s.addSubscriberLocked(e, sub)
	sub.deliver(e.st)

	s.logger.Debug().Str("key", e.id).Int("subscribers", len(e.subs)).Msg("subscribed")
	return sub
}

// Idle returns a subscription that stays in StatusIdle and never fetches.
func Idle[T any]() *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan Snapshot[T], 1)}
	sub.deliver(state{status: StatusIdle})
	return sub
}

// Updates returns the snapshot channel. It is closed by Close or when the store closes.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.ch
}

// Current returns the most recent snapshot.
func (s *Subscription[T]) Current() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close unsubscribes. The last subscriber leaving a key stops its polling.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if s.store != nil && s.entry != nil {
		s.store.unsubscribe(s.entry, s.id)
	}
}

func (s *Subscription[T]) deliver(st state) {
	snap := toSnapshot[T](st)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.current = snap
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *Subscription[T]) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Fetch reads key through the cache: fresh data is returned as-is, otherwise the key is
// fetched (sharing any request already in flight) and the result stored.
func Fetch[T any](ctx context.Context, s *Store, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrStoreClosed
	}

	e := s.entryLocked(key, wrap(fetch))
	if !s.needsFetchLocked(e) {
		v, _ := e.st.data.(T)
		s.mu.Unlock()
		return v, nil
	}

	attached := e.st.fetching
	e.waiters++
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	ch := s.launchLocked(e)
	s.mu.Unlock()

	select {
	case res := <-ch:
		s.release(e)
		s.afterFetch(e)
		if attached {
			s.metrics.FetchShared(key)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		s.release(e)
		s.drain(e, ch)
		return zero, ctx.Err()
	}
}

func (s *Store) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.waiters--
	if len(e.subs) == 0 && e.waiters == 0 && s.entries[e.id] == e {
		s.scheduleGCLocked(e)
	}
}

// drain waits for an abandoned fetch so that a pending refetch still runs.
func (s *Store) drain(e *entry, ch <-chan singleflight.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ch
		s.afterFetch(e)
	}()
}

func wrap[T any](fetch func(ctx context.Context) (T, error)) FetchFunc {
	if fetch == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
