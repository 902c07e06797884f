package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Subscription is a live query over the store. It emits a full snapshot
// first and then one diffed snapshot per committed change to its matched set.
//
// Emissions are delivered on C. The channel is closed when the subscription
// ends, either through Close, cancellation of the context passed to
// Subscribe, or the store closing. A subscriber that falls behind sees
// coalesced changes: every emission is diffed against the previous emission.
type Subscription struct {
	ID        string
	Predicate Predicate

	store  *SQLiteStore
	out    chan Snapshot
	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// Subscribe opens a live query for p. The initial snapshot is read before
// Subscribe returns, so an unusable predicate or a failing query surfaces
// here as a *QueryError rather than as a silent empty stream.
//
// Subscribe may be called again with the same predicate to restart the
// sequence from a fresh full snapshot.
func (s *SQLiteStore) Subscribe(ctx context.Context, p Predicate) (*Subscription, error) {
	if err := p.Validate(); err != nil {
		return nil, &QueryError{Predicate: p, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:        uuid.NewString(),
		Predicate: p,
		store:     s,
		out:       make(chan Snapshot),
		dirty:     make(chan struct{}, 1),
		ctx:       subCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Register before the first read so no commit can slip between the
	// snapshot and the first notification.
	if !s.register(sub) {
		cancel()
		return nil, &QueryError{Predicate: p, Err: ErrClosed}
	}

	initial, err := s.Query(subCtx, p)
	if err != nil {
		s.unregister(sub)
		cancel()
		return nil, &QueryError{Predicate: p, Err: err}
	}

	s.logger.Debug("subscription opened",
		"subscription", sub.ID, "term", p.Term, "language", p.Language, "rows", len(initial))

	go sub.run(initial)
	return sub, nil
}

// C returns the channel of snapshots.
func (sub *Subscription) C() <-chan Snapshot {
	return sub.out
}

// Done is closed once the subscription has stopped emitting.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Err returns the error that ended the subscription, if any.
// Closing a subscription is not an error.
func (sub *Subscription) Err() error {
	sub.errMu.Lock()
	defer sub.errMu.Unlock()
	return sub.err
}

// Close stops the subscription and waits for its goroutine to exit.
// No snapshot is delivered after Close returns. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

func (sub *Subscription) run(initial []SearchResult) {
	defer close(sub.done)
	defer close(sub.out)
	defer sub.store.unregister(sub)

	prev := initial
	if !sub.send(Snapshot{Results: initial}) {
		return
	}

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.dirty:
		}

		next, err := sub.store.Query(sub.ctx, sub.Predicate)
		if err != nil {
			if sub.ctx.Err() != nil {
				return
			}
			sub.setErr(err)
			sub.store.logger.Error("subscription query failed", "subscription", sub.ID, "error", err)
			return
		}

		changes := Diff(prev, next)
		if changes.Empty() {
			continue
		}
		prev = next
		if !sub.send(Snapshot{Results: next, Changes: changes}) {
			return
		}
	}
}

func (sub *Subscription) send(snap Snapshot) bool {
	select {
	case sub.out <- snap:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

func (sub *Subscription) setErr(err error) {
	sub.errMu.Lock()
	defer sub.errMu.Unlock()
	if sub.err == nil && !errors.Is(err, context.Canceled) {
		sub.err = err
	}
}

func (s *SQLiteStore) register(sub *Subscription) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *SQLiteStore) unregister(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, sub)
}

func (s *SQLiteStore) isClosed() bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.closed
}

// notify marks every live subscription dirty. It never blocks: a
// subscription that is already dirty will pick up this commit on its next read.
func (s *SQLiteStore) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}

// Diff computes the change set that turns prev into next. Both lists must be
// in store order; rows are matched by ID.
func Diff(prev, next []SearchResult) *ChangeSet {
	prevIdx := make(map[int64]int, len(prev))
	for i, r := range prev {
		prevIdx[r.ID] = i
	}

	cs := &ChangeSet{}
	seen := make(map[int64]struct{}, len(next))
	for i, r := range next {
		seen[r.ID] = struct{}{}
		j, ok := prevIdx[r.ID]
		switch {
		case !ok:
			cs.Insertions = append(cs.Insertions, i)
		case !prev[j].sameContent(r):
			cs.Modifications = append(cs.Modifications, i)
		}
	}
	for i, r := range prev {
		if _, ok := seen[r.ID]; !ok {
			cs.Deletions = append(cs.Deletions, i)
		}
	}
	return cs
}
