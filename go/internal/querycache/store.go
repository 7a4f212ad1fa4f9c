// Package querycache keeps client-side snapshots of remote resources fresh.
//
// A Store holds one entry per Key. Subscribing to a key fetches it when it has no
// data, is older than the stale time or was invalidated, and polls it for as long as
// at least one subscriber remains. Stale data is served immediately while the
// refetch runs in the background. Concurrent reads of a key share one request, and
// every fetch or mutation write-back carries a per-key generation so that a response
// is only applied when no later-issued one has completed first.
package querycache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrStoreClosed is returned by reads against a closed Store
var ErrStoreClosed = errors.New("querycache: store closed")

// FetchFunc loads the current value of a key
type FetchFunc func(ctx context.Context) (any, error)

// notifier receives state changes for one subscription
type notifier interface {
	deliver(st state)
	shutdown()
}

type entry struct {
	key   Key
	id    string
	fetch FetchFunc
	st    state

	// invalid is set by Invalidate and cleared by the next applied fetch.
	invalid bool
	// refetch records an invalidation that arrived while a fetch was in flight.
	refetch bool

	issued  uint64
	applied uint64
	// epoch advances when a fetch completes so that later launches never attach
	// to a call that has already produced its result.
	epoch uint64

	subs    map[uint64]notifier
	waiters int

	poll     clockwork.Ticker
	pollStop chan struct{}
	gc       clockwork.Timer
}

// Store is the injectable cache of remote resources. Create one per application
// (or per test) with NewStore and release it with Close.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	clock        clockwork.Clock
	staleTime    time.Duration
	pollInterval time.Duration
	gcTime       time.Duration
	metrics      Metrics
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextSubID uint64
	closed    bool
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:      make(map[string]*entry),
		clock:        clockwork.NewRealClock(),
		staleTime:    DefaultStaleTime,
		pollInterval: DefaultPollInterval,
		gcTime:       DefaultGCTime,
		metrics:      NoOpMetrics{},
		logger:       log.With().Str("component", "querycache").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels in-flight fetches, stops all timers and closes every subscription.
// It blocks until background goroutines have exited.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()

	var subs []notifier
	for _, e := range s.entries {
		s.stopPollingLocked(e)
		if e.gc != nil {
			e.gc.Stop()
			e.gc = nil
		}
		for _, sub := range e.subs {
			subs = append(subs, sub)
		}
		e.subs = nil
	}
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	s.wg.Wait()

	s.logger.Debug().Int("subscriptions", len(subs)).Msg("store closed")
}

// Invalidate marks key stale. Subscribed keys refetch immediately; a key with a fetch
// in flight refetches once that fetch completes.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key.String()]; ok {
		s.invalidateLocked(e)
	}
}

// InvalidatePrefix invalidates every key starting with prefix.
func (s *Store) InvalidatePrefix(prefix Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.key.HasPrefix(prefix) {
			s.invalidateLocked(e)
		}
	}
}

// Token reserves a generation for a mutation write-back
type Token struct {
	key string
	gen uint64
}

// Begin reserves a generation for key at the moment a mutation request is issued.
func (s *Store) Begin(key Key) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Token{}
	}
	e := s.entryLocked(key, nil)
	e.issued++
	if len(e.subs) == 0 && e.waiters == 0 {
		s.scheduleGCLocked(e)
	}
	return Token{key: e.id, gen: e.issued}
}

// Commit stores data under the token's key unless a later-issued fetch or mutation
// has already been applied. It reports whether the data was applied.
func (s *Store) Commit(token Token, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token.key]
	if !ok || s.closed || token.gen == 0 {
		return false
	}
	if token.gen <= e.applied {
		s.metrics.ResultDiscarded(e.key, DiscardSuperseded)
		s.logger.Debug().Str("key", e.id).Uint64("generation", token.gen).Msg("discarding superseded write-back")
		return false
	}

	e.applied = token.gen
	e.st = state{
		status:    StatusReady,
		data:      data,
		hasData:   true,
		updatedAt: s.clock.Now(),
		fetching:  e.st.fetching,
	}
	s.broadcastLocked(e)
	return true
}

// Peek returns the raw snapshot of key without subscribing or fetching.
func (s *Store) Peek(key Key) (Snapshot[any], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Snapshot[any]{}, false
	}
	return toSnapshot[any](e.st), true
}

// Len returns the number of cached keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) entryLocked(key Key, fetch FetchFunc) *entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{
			key:  NewKey(key...),
			id:   id,
			st:   state{status: StatusLoading},
			subs: make(map[uint64]notifier),
		}
		s.entries[id] = e
	}
	if fetch != nil {
		e.fetch = fetch
	}
	return e
}

func (s *Store) needsFetchLocked(e *entry) bool {
	if !e.st.hasData || e.invalid {
		return true
	}
	return s.clock.Since(e.st.updatedAt) >= s.staleTime
}

func (s *Store) invalidateLocked(e *entry) {
	e.invalid = true
	s.metrics.Invalidated(e.key)

	if e.st.fetching {
		e.refetch = true
		return
	}
	if len(e.subs) > 0 {
		s.startFetchLocked(e)
	}
}

// launchLocked starts (or attaches to) the fetch for e.
func (s *Store) launchLocked(e *entry) <-chan singleflight.Result {
	if !e.st.fetching {
		e.st.fetching = true
		s.broadcastLocked(e)
	}
	return s.group.DoChan(e.id+"#"+strconv.FormatUint(e.epoch, 10), func() (any, error) {
		return s.runFetch(e)
	})
}

// startFetchLocked starts a background fetch whose result is only observed through
// subscriptions.
func (s *Store) startFetchLocked(e *entry) {
	if s.closed || e.fetch == nil || e.st.fetching {
		return
	}
	ch := s.launchLocked(e)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ch
		s.afterFetch(e)
	}()
}

func (s *Store) runFetch(e *entry) (any, error) {
	s.mu.Lock()
	e.issued++
	gen := e.issued
	fetch := e.fetch
	s.mu.Unlock()

	s.metrics.FetchStarted(e.key)
	start := s.clock.Now()

	data, err := fetch(s.ctx)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	s.metrics.FetchCompleted(e.key, outcome, s.clock.Since(start))

	s.complete(e, gen, data, err)
	return data, err
}

func (s *Store) complete(e *entry, gen uint64, data any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.st.fetching = false
	e.epoch++

	if s.closed || s.entries[e.id] != e {
		s.metrics.ResultDiscarded(e.key, DiscardClosed)
		return
	}
	if gen <= e.applied {
		s.metrics.ResultDiscarded(e.key, DiscardSuperseded)
		s.logger.Debug().Str("key", e.id).Uint64("generation", gen).Uint64("applied", e.applied).Msg("discarding superseded response")
		s.broadcastLocked(e)
		return
	}
	if len(e.subs) == 0 && e.waiters == 0 {
		s.metrics.ResultDiscarded(e.key, DiscardUnsubscribed)
		s.logger.Debug().Str("key", e.id).Msg("discarding response for unsubscribed key")
		return
	}

	e.applied = gen
	if err != nil {
		e.st.status = StatusError
		e.st.err = err
		s.logger.Warn().Err(err).Str("key", e.id).Bool("stale_data", e.st.hasData).Msg("fetch failed")
	} else {
		e.st = state{
			status:    StatusReady,
			data:      data,
			hasData:   true,
			updatedAt: s.clock.Now(),
		}
		if !e.refetch {
			e.invalid = false
		}
	}
	s.broadcastLocked(e)
}

// afterFetch runs a refetch that was requested while the previous fetch was in flight.
func (s *Store) afterFetch(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.entries[e.id] != e || !e.refetch || e.st.fetching {
		return
	}
	e.refetch = false
	if len(e.subs) > 0 {
		s.startFetchLocked(e)
	}
}

func (s *Store) broadcastLocked(e *entry) {
	for _, sub := range e.subs {
		sub.deliver(e.st)
	}
}

func (s *Store) addSubscriberLocked(e *entry, n notifier) uint64 {
	s.nextSubID++
	id := s.nextSubID
	e.subs[id] = n
	s.metrics.Subscribed(e.key)

	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	if len(e.subs) == 1 {
		s.startPollingLocked(e)
	}
	if s.needsFetchLocked(e) {
		s.startFetchLocked(e)
	}
	return id
}

func (s *Store) unsubscribe(e *entry, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := e.subs[id]; !ok {
		return
	}
	delete(e.subs, id)
	s.metrics.Unsubscribed(e.key)

	if len(e.subs) == 0 {
		s.stopPollingLocked(e)
		if e.waiters == 0 {
			s.scheduleGCLocked(e)
		}
	}
}

func (s *Store) startPollingLocked(e *entry) {
	if s.pollInterval <= 0 || e.poll != nil || s.closed {
		return
	}
	ticker := s.clock.NewTicker(s.pollInterval)
	stop := make(chan struct{})
	e.poll = ticker
	e.pollStop = stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.Chan():
				s.onTick(e)
			case <-stop:
				return
			}
		}
	}()
}

func (s *Store) stopPollingLocked(e *entry) {
	if e.poll == nil {
		return
	}
	e.poll.Stop()
	close(e.pollStop)
	e.poll = nil
	e.pollStop = nil
}

func (s *Store) onTick(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.entries[e.id] != e || len(e.subs) == 0 {
		return
	}
	s.logger.Debug().Str("key", e.id).Msg("poll interval elapsed")
	s.startFetchLocked(e)
}

func (s *Store) scheduleGCLocked(e *entry) {
	if s.closed || e.gc != nil {
		return
	}
	if s.gcTime <= 0 {
		if !e.st.fetching {
			delete(s.entries, e.id)
		}
		return
	}
	e.gc = s.clock.AfterFunc(s.gcTime, func() {
		s.collect(e)
	})
}

func (s *Store) collect(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.gc = nil
	if s.closed || s.entries[e.id] != e || len(e.subs) > 0 || e.waiters > 0 {
		return
	}
	if e.st.fetching {
		s.scheduleGCLocked(e)
		return
	}
	delete(s.entries, e.id)
	s.logger.Debug().Str("key", e.id).Msg("evicted unused key")
}
