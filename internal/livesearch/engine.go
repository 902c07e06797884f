package livesearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runger/livesearch/internal/github"
	"github.com/runger/livesearch/internal/storage"
)

// DefaultThrottle is the fetch throttle window used by the CLI.
const DefaultThrottle = 500 * time.Millisecond

// ErrAlreadyRunning is returned by Run when the engine's loop is already
// running or has run before.
var ErrAlreadyRunning = errors.New("livesearch: engine already started")

// Config configures an Engine.
type Config struct {
	Store         storage.Store
	Fetcher       github.Fetcher
	Clock         Clock         // RealClock when nil
	Throttle      time.Duration // Fetch throttle window; 0 fetches on every change
	MinTermLength int           // Raised to DefaultMinTermLength when lower
	Observer      Observer      // Optional
	Logger        *slog.Logger
}

// Engine combines the query pipeline (throttle, fetch, upsert) with the
// live view binder (criteria, subscription, diffed view). Inputs may be sent
// from any goroutine, before or while Run is active.
type Engine struct {
	store    storage.Store
	fetcher  github.Fetcher
	clock    Clock
	throttle time.Duration
	minLen   int
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	latest Criteria
	queue  []Criteria
	wake   chan struct{}

	fired   chan uint64
	fetched chan fetchResult
	done    chan struct{}
	started atomic.Bool
}

// fetchResult is a completed fetch handed back to the loop.
type fetchResult struct {
	gen      uint64
	criteria Criteria
	results  []storage.SearchResult
}

// New creates an Engine. Store and Fetcher are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("livesearch: store is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("livesearch: fetcher is required")
	}

	e := &Engine{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		throttle: cfg.Throttle,
		minLen:   cfg.MinTermLength,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		wake:     make(chan struct{}, 1),
		fired:    make(chan uint64),
		fetched:  make(chan fetchResult),
		done:     make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.throttle < 0 {
		e.throttle = 0
	}
	if e.minLen < DefaultMinTermLength {
		e.minLen = DefaultMinTermLength
	}
	if e.observer == nil {
		e.observer = ObserverFuncs{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "livesearch")
	return e, nil
}

// OnCriteriaChanged records a new term and language pair.
func (e *Engine) OnCriteriaChanged(term, language string) {
	e.push(func(c *Criteria) {
		c.Term = term
		c.Language = language
	})
}

// SetTerm replaces the term and keeps the latest language.
func (e *Engine) SetTerm(term string) {
	e.push(func(c *Criteria) { c.Term = term })
}

// SetLanguage replaces the language and keeps the latest term.
func (e *Engine) SetLanguage(language string) {
	e.push(func(c *Criteria) { c.Language = language })
}

// Criteria returns the latest combined input.
func (e *Engine) Criteria() Criteria {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// MinTermLength returns the shortest active term length in use.
func (e *Engine) MinTermLength() int {
	return e.minLen
}

func (e *Engine) push(update func(*Criteria)) {
	e.mu.Lock()
	update(&e.latest)
	e.queue = append(e.queue, e.latest)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) drain() []Criteria {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queue
	e.queue = nil
	return q
}

// Run processes input until ctx is cancelled. It returns nil on
// cancellation and a *storage.QueryError when a live query cannot be kept
// open. Run may be called only once per Engine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	l := &loop{e: e, ctx: ctx}
	defer l.shutdown()

	e.logger.Debug("engine started", "throttle", e.throttle, "min_term_length", e.minLen)

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("engine stopped")
			return nil

		case <-e.wake:
			for _, c := range e.drain() {
				if err := l.input(c); err != nil {
					return err
				}
			}

		case id := <-e.fired:
			l.windowClosed(id)

		case r := <-e.fetched:
			l.fetchDone(r)

		case snap, ok := <-l.subC():
			if err := l.snapshot(snap, ok); err != nil {
				return err
			}
		}
	}
}

// loop holds the state owned by the Run goroutine.
type loop struct {
	e   *Engine
	ctx context.Context

	// Binder: the criteria the live query was opened for.
	bound *Criteria
	sub   *storage.Subscription

	// Throttle: window is non-nil while a window is open.
	window   Timer
	windowID uint64
	pending  *Criteria
	last     *Criteria

	// Latest-wins fetch.
	fetchGen    uint64
	fetchCancel context.CancelFunc
	fetching    bool
	workers     sync.WaitGroup
}

func (l *loop) input(c Criteria) error {
	// Short terms never reach the pipeline: a pending delivery and a running
	// fetch both carry on. Only the view is cleared.
	if !c.Active(l.e.minLen) {
		l.unbind(c)
		l.last = nil
		return nil
	}

	if err := l.bind(c); err != nil {
		return err
	}

	l.pending = &c
	if l.e.throttle == 0 {
		l.deliver()
		return nil
	}
	if l.window == nil {
		l.openWindow()
	}
	return nil
}

// bind opens a live query for c unless one is already open for it.
func (l *loop) bind(c Criteria) error {
	if l.sub != nil && l.bound != nil && *l.bound == c {
		return nil
	}
	l.closeSub()

	sub, err := l.e.store.Subscribe(l.ctx, c.Predicate())
	if err != nil {
		return fmt.Errorf("livesearch: bind %s: %w", c, err)
	}
	l.bound = &c
	l.sub = sub
	l.e.logger.Debug("bound", "subscription", sub.ID, "term", c.Term, "language", c.Language)
	return nil
}

// unbind drops the live query and presents an empty view.
func (l *loop) unbind(c Criteria) {
	if l.sub == nil && l.bound == nil {
		return
	}
	l.closeSub()
	l.bound = nil
	l.e.observer.ViewUpdated(ViewUpdate{Criteria: c, Cleared: true})
}

func (l *loop) closeSub() {
	if l.sub != nil {
		l.sub.Close()
		l.sub = nil
	}
}

func (l *loop) subC() <-chan storage.Snapshot {
	if l.sub == nil {
		return nil
	}
	return l.sub.C()
}

func (l *loop) snapshot(snap storage.Snapshot, ok bool) error {
	if !ok {
		sub := l.sub
		l.sub = nil
		l.bound = nil
		if err := sub.Err(); err != nil {
			return &storage.QueryError{Predicate: sub.Predicate, Err: err}
		}
		if l.ctx.Err() != nil {
			return nil
		}
		return &storage.QueryError{Predicate: sub.Predicate, Err: storage.ErrClosed}
	}

	l.e.observer.ViewUpdated(ViewUpdate{
		Criteria: *l.bound,
		Results:  snap.Results,
		Changes:  snap.Changes,
	})
	return nil
}

func (l *loop) openWindow() {
	l.windowID++
	id := l.windowID
	fired, done := l.e.fired, l.e.done
	l.window = l.e.clock.AfterFunc(l.e.throttle, func() {
		select {
		case fired <- id:
		case <-done:
		}
	})
}

func (l *loop) windowClosed(id uint64) {
	if l.window == nil || id != l.windowID {
		return // Stale timer; ignore.
	}
	l.window = nil
	l.deliver()
}

// deliver starts a fetch for the pending criteria unless it repeats the
// previous delivery.
func (l *loop) deliver() {
	c := l.pending
	l.pending = nil
	if c == nil {
		return
	}
	if l.last != nil && *l.last == *c {
		l.e.logger.Debug("skipping repeated search", "term", c.Term, "language", c.Language)
		return
	}
	l.last = c
	l.startFetch(*c)
}

func (l *loop) startFetch(c Criteria) {
	if l.fetchCancel != nil {
		l.fetchCancel()
	}
	l.fetchGen++
	gen := l.fetchGen
	ctx, cancel := context.WithCancel(l.ctx)
	l.fetchCancel = cancel
	l.setFetching(true)

	fetcher, fetched := l.e.fetcher, l.e.fetched
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		results := fetcher.Fetch(ctx, c.Term, c.Language)
		select {
		case fetched <- fetchResult{gen: gen, criteria: c, results: results}:
		case <-ctx.Done():
		}
	}()
}

func (l *loop) fetchDone(r fetchResult) {
	if l.fetchCancel == nil || r.gen != l.fetchGen {
		l.e.logger.Debug("discarding superseded results", "term", r.criteria.Term, "results", len(r.results))
		return
	}

	if err := l.e.store.Upsert(l.ctx, r.results); err != nil {
		var werr *storage.WriteError
		if errors.As(err, &werr) {
			l.e.logger.Warn("dropping search results", "count", werr.Count, "error", werr.Err)
		} else {
			l.e.logger.Warn("dropping search results", "count", len(r.results), "error", err)
		}
	}

	l.fetchCancel()
	l.fetchCancel = nil
	l.setFetching(false)
}

func (l *loop) setFetching(fetching bool) {
	if l.fetching == fetching {
		return
	}
	l.fetching = fetching
	l.e.observer.FetchStateChanged(fetching)
}

func (l *loop) shutdown() {
	if l.window != nil {
		l.window.Stop()
		l.window = nil
	}
	if l.fetchCancel != nil {
		l.fetchCancel()
		l.fetchCancel = nil
	}
	l.closeSub()
	l.workers.Wait()
}
