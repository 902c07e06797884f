// Package livesearch turns search input into cache-updating fetches and keeps
// a live, diffed view of the cached results that match the current input.
//
// All state transitions happen on one goroutine, the Engine's Run loop.
// Timers, fetch workers and store subscriptions only hand messages to it.
package livesearch

import (
	"strings"
	"unicode/utf8"

	"github.com/runger/livesearch/internal/storage"
)

// DefaultMinTermLength is the shortest term, in characters, that counts as
// an active search.
const DefaultMinTermLength = 3

// Criteria is the latest term paired with the latest language filter.
type Criteria struct {
	Term     string
	Language string
}

// Active reports whether c describes a search: a term of at least minLen
// characters that is not only whitespace, and a language.
func (c Criteria) Active(minLen int) bool {
	if minLen < DefaultMinTermLength {
		minLen = DefaultMinTermLength
	}
	if c.Language == "" || strings.TrimSpace(c.Term) == "" {
		return false
	}
	return utf8.RuneCountInString(c.Term) >= minLen
}

// Predicate returns the store predicate for c.
func (c Criteria) Predicate() storage.Predicate {
	return storage.Predicate{Term: c.Term, Language: c.Language}
}

func (c Criteria) String() string {
	return c.Term + " [" + c.Language + "]"
}
