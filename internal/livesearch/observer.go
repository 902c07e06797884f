package livesearch

import "github.com/runger/livesearch/internal/storage"

// ViewUpdate is one change to the presented result list.
type ViewUpdate struct {
	Criteria Criteria
	Results  []storage.SearchResult

	// Changes is nil when the consumer must reload the whole list: on the
	// first emission after a rebind and when the view is cleared.
	Changes *storage.ChangeSet

	// Cleared is set when the criteria went inactive and the view is empty.
	Cleared bool
}

// FullReload reports whether the update replaces the list wholesale.
func (u ViewUpdate) FullReload() bool {
	return u.Changes == nil
}

// Observer receives the Engine's output events. Calls are made from the Run
// goroutine, in order, and must not block for long.
type Observer interface {
	ViewUpdated(u ViewUpdate)
	FetchStateChanged(fetching bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnViewUpdate  func(ViewUpdate)
	OnFetchChange func(bool)
}

// ViewUpdated implements Observer.
func (o ObserverFuncs) ViewUpdated(u ViewUpdate) {
	if o.OnViewUpdate != nil {
		o.OnViewUpdate(u)
	}
}

// FetchStateChanged implements Observer.
func (o ObserverFuncs) FetchStateChanged(fetching bool) {
	if o.OnFetchChange != nil {
		o.OnFetchChange(fetching)
	}
}
