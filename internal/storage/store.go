// Package storage provides SQLite-based persistent storage for livesearch.
// It holds the cached search results and serves live, diffed queries over them.
package storage

import (
	"context"
	"strings"
)

// Store defines the interface for all storage operations.
// The search engine loop is the only writer during normal operation.
type Store interface {
	// Search results
	Upsert(ctx context.Context, results []SearchResult) error
	Query(ctx context.Context, p Predicate) ([]SearchResult, error)
	Get(ctx context.Context, id int64) (*SearchResult, error)
	Count(ctx context.Context) (int64, error)

	// Live queries
	Subscribe(ctx context.Context, p Predicate) (*Subscription, error)

	// Lifecycle
	Close() error
}

// SearchResult is a repository returned by the remote search API.
type SearchResult struct {
	ID       int64
	FullName string  // owner/repo
	Language *string // nil when the remote reports no language

	// Store-assigned fields; ignored on upsert.
	InsertedSeq     int64 // ordering key, fixed at first insert
	UpdatedAtUnixMs int64
}

// LanguageOrEmpty returns the language tag, or "" when unset.
func (r SearchResult) LanguageOrEmpty() string {
	if r.Language == nil {
		return ""
	}
	return *r.Language
}

// sameContent reports whether two rows carry the same mutable fields.
func (r SearchResult) sameContent(o SearchResult) bool {
	if r.FullName != o.FullName {
		return false
	}
	if r.Language == nil || o.Language == nil {
		return r.Language == nil && o.Language == nil
	}
	return *r.Language == *o.Language
}

// Predicate selects the rows a query or subscription matches.
type Predicate struct {
	Term     string // substring of FullName, ASCII case-insensitive
	Language string // exact match
}

// Validate reports ErrInvalidPredicate for predicates that cannot be queried.
func (p Predicate) Validate() error {
	if strings.TrimSpace(p.Term) == "" || p.Language == "" {
		return ErrInvalidPredicate
	}
	return nil
}

// ChangeSet describes how one emitted list differs from the previous one.
type ChangeSet struct {
	Deletions     []int // indices into the previous list
	Insertions    []int // indices into the new list
	Modifications []int // indices into the new list
}

// Empty reports whether the change set carries no changes.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.Deletions) == 0 && len(c.Insertions) == 0 && len(c.Modifications) == 0)
}

// Snapshot is one emission of a live query. Changes is nil on the first
// emission, which means the consumer should reload everything.
type Snapshot struct {
	Results []SearchResult
	Changes *ChangeSet
}
