package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a search result is not in the store.
	ErrNotFound = errors.New("search result not found")

	// ErrInvalidPredicate is returned for a predicate with an empty term or language.
	ErrInvalidPredicate = errors.New("invalid predicate")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// WriteError reports a failed upsert. The batch was not applied.
type WriteError struct {
	Count int // records in the rejected batch
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("upsert of %d results failed: %v", e.Count, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// QueryError reports that a live query could not be established.
type QueryError struct {
	Predicate Predicate
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query term=%q language=%q failed: %v", e.Predicate.Term, e.Predicate.Language, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
