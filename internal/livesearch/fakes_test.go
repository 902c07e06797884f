package livesearch

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runger/livesearch/internal/storage"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// manualClock fires timers only when Advance moves time past them.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	at    time.Time
	f     func()
	done  bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers outside the lock.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.at.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// fakeFetcher records calls and answers from a fixed table. A gate, when
// set for a term, holds that fetch until the gate is closed.
type fakeFetcher struct {
	mu        sync.Mutex
	calls     []Criteria
	cancelled []Criteria
	results   map[Criteria][]storage.SearchResult
	gates     map[string]chan struct{}
	honorCtx  bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[Criteria][]storage.SearchResult),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) respond(c Criteria, results ...storage.SearchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[c] = results
}

func (f *fakeFetcher) gate(term string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[term] = ch
	return ch
}

func (f *fakeFetcher) Fetch(ctx context.Context, term, language string) []storage.SearchResult {
	c := Criteria{Term: term, Language: language}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate := f.gates[term]
	honor := f.honorCtx
	f.mu.Unlock()

	if gate != nil {
		if honor {
			select {
			case <-gate:
			case <-ctx.Done():
				f.mu.Lock()
				f.cancelled = append(f.cancelled, c)
				f.mu.Unlock()
				return []storage.SearchResult{}
			}
		} else {
			<-gate
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.SearchResult{}, f.results[c]...)
}

func (f *fakeFetcher) Calls() []Criteria {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Criteria(nil), f.calls...)
}

func (f *fakeFetcher) Cancelled() []Criteria {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Criteria(nil), f.cancelled...)
}

// recorder is an Observer that keeps every event.
type recorder struct {
	mu     sync.Mutex
	views  []ViewUpdate
	states []bool
}

func (r *recorder) ViewUpdated(u ViewUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, u)
}

func (r *recorder) FetchStateChanged(fetching bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, fetching)
}

func (r *recorder) Views() []ViewUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ViewUpdate(nil), r.views...)
}

func (r *recorder) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func (r *recorder) Last() (ViewUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return ViewUpdate{}, false
	}
	return r.views[len(r.views)-1], true
}

// failingStore rejects every upsert.
type failingStore struct {
	*storage.SQLiteStore
}

func (s failingStore) Upsert(ctx context.Context, results []storage.SearchResult) error {
	return &storage.WriteError{Count: len(results), Err: storage.ErrClosed}
}

type harness struct {
	t       *testing.T
	store   *storage.SQLiteStore
	fetcher *fakeFetcher
	clock   *manualClock
	rec     *recorder
	engine  *Engine
	cancel  context.CancelFunc
	errCh   chan error
}

type harnessOption func(*Config)

func withThrottle(d time.Duration) harnessOption {
	return func(c *Config) { c.Throttle = d }
}

func withFailingUpserts() harnessOption {
	return func(c *Config) { c.Store = failingStore{c.Store.(*storage.SQLiteStore)} }
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"), storage.Options{
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness starts an engine with a 500ms throttle on a manual clock.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		store:   newTestStore(t),
		fetcher: newFakeFetcher(),
		clock:   newManualClock(),
		rec:     &recorder{},
		errCh:   make(chan error, 1),
	}

	cfg := Config{
		Store:    h.store,
		Fetcher:  h.fetcher,
		Clock:    h.clock,
		Throttle: DefaultThrottle,
		Observer: h.rec,
		Logger:   quietLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := New(cfg)
	require.NoError(t, err)
	h.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errCh <- engine.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.errCh:
		case <-time.After(waitFor):
			t.Error("engine did not stop")
		}
	})
	return h
}

// waitBound waits for the full-reload view that follows binding c.
func (h *harness) waitBound(c Criteria) ViewUpdate {
	h.t.Helper()
	var got ViewUpdate
	require.Eventually(h.t, func() bool {
		for _, v := range h.rec.Views() {
			if v.Criteria == c && v.FullReload() && !v.Cleared {
				got = v
				return true
			}
		}
		return false
	}, waitFor, tick, "never bound to %v", c)
	return got
}

// waitBoundCount waits until c has been bound n times.
func (h *harness) waitBoundCount(c Criteria, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		count := 0
		for _, v := range h.rec.Views() {
			if v.Criteria == c && v.FullReload() && !v.Cleared {
				count++
			}
		}
		return count >= n
	}, waitFor, tick, "%v bound fewer than %d times", c, n)
}

// waitArmed waits until the throttle window is open.
func (h *harness) waitArmed() {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.clock.Pending() == 1 }, waitFor, tick, "throttle window never opened")
}

// waitStates waits until the fetch indicator history equals want.
func (h *harness) waitStates(want ...bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		got := h.rec.States()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, waitFor, tick, "fetch states = %v, want %v", h.rec.States(), want)
}

// waitCalls waits until the fetcher saw n calls.
func (h *harness) waitCalls(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.fetcher.Calls()) == n }, waitFor, tick,
		"fetch calls = %v, want %d", h.fetcher.Calls(), n)
}

func repo(id int64, fullName, language string) storage.SearchResult {
	return storage.SearchResult{ID: id, FullName: fullName, Language: &language}
}

func names(rs []storage.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.FullName
	}
	return out
}
