package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func next(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return snap
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func assertNoSnapshot(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_InitialSnapshotIsFullReload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []SearchResult{
		result(1, "foo/bar", "Swift"),
		result(2, "foo/baz", "Go"),
	}))

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Swift"})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Nil(t, snap.Changes)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, int64(1), snap.Results[0].ID)
	assert.Equal(t, "foo/bar", snap.Results[0].FullName)
	assert.Equal(t, "Swift", snap.Results[0].LanguageOrEmpty())
}

func TestSubscribe_IncrementalChanges(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/a", "Go")}))

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	// Insert
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(2, "foo/b", "Go")}))
	snap := next(t, sub)
	require.NotNil(t, snap.Changes)
	assert.Equal(t, []int{1}, snap.Changes.Insertions)
	assert.Empty(t, snap.Changes.Deletions)
	assert.Empty(t, snap.Changes.Modifications)
	assert.Equal(t, []int64{1, 2}, ids(snap.Results))

	// Modify in place
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/a2", "Go")}))
	snap = next(t, sub)
	assert.Equal(t, []int{0}, snap.Changes.Modifications)
	assert.Empty(t, snap.Changes.Insertions)
	assert.Equal(t, "foo/a2", snap.Results[0].FullName)

	// Leave the matched set by changing language
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/a2", "Rust")}))
	snap = next(t, sub)
	assert.Equal(t, []int{0}, snap.Changes.Deletions)
	assert.Equal(t, []int64{2}, ids(snap.Results))
}

func TestSubscribe_UnrelatedWritesEmitNothing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "bar/qux", "Go")}))
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(2, "foo/qux", "Swift")}))
	// Re-upserting identical content is not a change either.
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "bar/qux", "Go")}))

	assertNoSnapshot(t, sub)
}

func TestSubscribe_BatchIsAtomic(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	batch := make([]SearchResult, 0, 50)
	for i := 1; i <= 50; i++ {
		batch = append(batch, result(int64(i), generateTestName(i%10, i%10)+"-foo", "Go"))
	}
	require.NoError(t, store.Upsert(ctx, batch))

	snap := next(t, sub)
	assert.Len(t, snap.Results, 50, "reader must see the whole batch at once")
	assert.Len(t, snap.Changes.Insertions, 50)
}

func TestSubscribe_CoalescesWhenBehind(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	defer sub.Close()

	// Do not read the initial snapshot yet; three commits land meanwhile.
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/a", "Go")}))
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(2, "foo/b", "Go")}))
	require.NoError(t, store.Upsert(ctx, []SearchResult{result(3, "foo/c", "Go")}))

	first := next(t, sub)
	assert.Nil(t, first.Changes)

	// Every later emission is diffed against the previous emission, so the
	// final emitted list is always the full current set.
	last := first
	for len(last.Results) < 3 {
		last = next(t, sub)
		require.NotNil(t, last.Changes)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids(last.Results))
}

func TestSubscribe_CloseStopsEmissions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Swift"})
	require.NoError(t, err)
	next(t, sub)
	sub.Close()
	sub.Close()

	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/bar", "Swift")}))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	assert.NoError(t, sub.Err())
}

func TestSubscribe_ContextCancelEnds(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.Subscribe(ctx, Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	next(t, sub)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not stop after cancel")
	}
}

func TestSubscribe_Restartable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	pred := Predicate{Term: "foo", Language: "Go"}

	require.NoError(t, store.Upsert(ctx, []SearchResult{result(1, "foo/a", "Go")}))

	sub, err := store.Subscribe(ctx, pred)
	require.NoError(t, err)
	next(t, sub)
	sub.Close()

	require.NoError(t, store.Upsert(ctx, []SearchResult{result(2, "foo/b", "Go")}))

	again, err := store.Subscribe(ctx, pred)
	require.NoError(t, err)
	defer again.Close()

	snap := next(t, again)
	assert.Nil(t, snap.Changes)
	assert.Equal(t, []int64{1, 2}, ids(snap.Results))
}

func TestSubscribe_InvalidPredicate_QueryError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	_, err := store.Subscribe(context.Background(), Predicate{Term: "  ", Language: "Go"})
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr), "want *QueryError, got %v", err)
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}

func TestSubscribe_StoreCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sub, err := store.Subscribe(context.Background(), Predicate{Term: "foo", Language: "Go"})
	require.NoError(t, err)
	next(t, sub)

	require.NoError(t, store.Close())

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription still running after store close")
	}

	_, err = store.Subscribe(context.Background(), Predicate{Term: "foo", Language: "Go"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a := result(1, "foo/a", "Go")
	b := result(2, "foo/b", "Go")
	c := result(3, "foo/c", "Go")
	b2 := result(2, "foo/b2", "Go")

	tests := []struct {
		name string
		prev []SearchResult
		next []SearchResult
		want ChangeSet
	}{
		{"no change", []SearchResult{a, b}, []SearchResult{a, b}, ChangeSet{}},
		{"append", []SearchResult{a}, []SearchResult{a, b}, ChangeSet{Insertions: []int{1}}},
		{"remove middle", []SearchResult{a, b, c}, []SearchResult{a, c}, ChangeSet{Deletions: []int{1}}},
		{"modify", []SearchResult{a, b}, []SearchResult{a, b2}, ChangeSet{Modifications: []int{1}}},
		{
			"mixed",
			[]SearchResult{a, b},
			[]SearchResult{b2, c},
			ChangeSet{Deletions: []int{0}, Insertions: []int{1}, Modifications: []int{0}},
		},
		{"from empty", nil, []SearchResult{a}, ChangeSet{Insertions: []int{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.prev, tt.next)
			assert.Equal(t, tt.want, *got)
		})
	}
}
