// Package storetest is the conformance suite every changemaster.Store
// backend runs from its own tests
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/changemaster"
)

// Factory opens an empty Store for a single test. The suite closes it
type Factory func(t *testing.T) changemaster.Store

// Run exercises the full Store contract against fresh Stores from open
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, changemaster.Store)
	}{
		{"AssignsIncreasingIDs", testAssignsIncreasingIDs},
		{"PreservesFields", testPreservesFields},
		{"NotFound", testNotFound},
		{"GreaterThan", testGreaterThan},
		{"LatestID", testLatestID},
		{"IDsLessThan", testIDsLessThan},
		{"Delete", testDelete},
		{"IDsNeverReused", testIDsNeverReused},
		{"ConcurrentAssign", testConcurrentAssign},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			defer func() { _ = store.Close() }()
			tc.fn(t, store)
		})
	}
}

// NewChange builds a raw change the way the ingestion pipeline hands them
// to a Store
func NewChange(author, revision, branch string) *changemaster.Change {
	return &changemaster.Change{
		Author:   author,
		Revision: revision,
		Branch:   branch,
		Files:    []string{"README"},
		Comments: "update " + revision,
		Project:  "proj",
		When:     time.UnixMilli(1700000000000).UTC(),
	}
}

func mustAdd(
	t *testing.T, store changemaster.Store, ch *changemaster.Change,
) *changemaster.Change {
	t.Helper()
	res, err := store.AssignAndPersist(context.Background(), ch)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func ids(changes []*changemaster.Change) []changemaster.ChangeID {
	res := make([]changemaster.ChangeID, 0, len(changes))
	for _, ch := range changes {
		res = append(res, ch.ID)
	}
	return res
}

func testAssignsIncreasingIDs(t *testing.T, store changemaster.Store) {
	var last changemaster.ChangeID
	for i := range 5 {
		raw := NewChange("alice", "r"+string(rune('a'+i)), "main")
		ch := mustAdd(t, store, raw)
		assert.Greater(t, ch.ID, last)
		assert.Equal(t, changemaster.NoChange, raw.ID)
		last = ch.ID
	}
}

func testPreservesFields(t *testing.T, store changemaster.Store) {
	ctx := context.Background()
	raw := &changemaster.Change{
		Author:     "Frosty the ☃",
		Revision:   "12345",
		Branch:     "b1",
		Repository: "git://example.com/repo.git",
		Category:   "release",
		Project:    "snowman",
		Comments:   "Frosty the ☃\nsecond line",
		Files:      []string{"foo", "bar", "bing", "foo"},
		When:       time.UnixMilli(1700000123456).UTC(),
	}

	added := mustAdd(t, store, raw)
	got, err := store.GetChange(ctx, added.ID)
	require.NoError(t, err)

	assert.Equal(t, added.ID, got.ID)
	assert.Equal(t, raw.Author, got.Author)
	assert.Equal(t, raw.Revision, got.Revision)
	assert.Equal(t, raw.Branch, got.Branch)
	assert.Equal(t, raw.Repository, got.Repository)
	assert.Equal(t, raw.Category, got.Category)
	assert.Equal(t, raw.Project, got.Project)
	assert.Equal(t, raw.Comments, got.Comments)
	assert.ElementsMatch(t, raw.Files, got.Files)
	assert.True(t, raw.When.Equal(got.When), "when %v != %v", raw.When, got.When)
}

func testNotFound(t *testing.T, store changemaster.Store) {
	ch, err := store.GetChange(context.Background(), 42)
	assert.ErrorIs(t, err, changemaster.ErrChangeNotFound)
	assert.Nil(t, ch)
}

func testGreaterThan(t *testing.T, store changemaster.Store) {
	ctx := context.Background()
	var added []changemaster.ChangeID
	for _, rev := range []string{"r1", "r2", "r3", "r4", "r5"} {
		added = append(added, mustAdd(t, store, NewChange("a", rev, "")).ID)
	}

	all, err := store.GetChangesGreaterThan(ctx, changemaster.NoChange, 0)
	require.NoError(t, err)
	assert.Equal(t, added, ids(all))
	assert.Equal(t, "r1", all[0].Revision)

	page, err := store.GetChangesGreaterThan(ctx, added[1], 2)
	require.NoError(t, err)
	assert.Equal(t, added[2:4], ids(page))

	none, err := store.GetChangesGreaterThan(ctx, added[4], 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.DeleteByID(ctx, added[2]))
	rest, err := store.GetChangesGreaterThan(ctx, added[0], 0)
	require.NoError(t, err)
	assert.Equal(t, []changemaster.ChangeID{added[1], added[3], added[4]}, ids(rest))
}

func testLatestID(t *testing.T, store changemaster.Store) {
	ctx := context.Background()

	latest, err := store.GetLatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, changemaster.NoChange, latest)

	onMain, err := store.GetLatestIDOnBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, changemaster.NoChange, onMain)

	m1 := mustAdd(t, store, NewChange("a", "r1", "main"))
	d1 := mustAdd(t, store, NewChange("a", "r2", "dev"))
	m2 := mustAdd(t, store, NewChange("a", "r3", "main"))
	n1 := mustAdd(t, store, NewChange("a", "r4", ""))

	latest, err = store.GetLatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, n1.ID, latest)

	onMain, err = store.GetLatestIDOnBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, m2.ID, onMain)

	onDev, err := store.GetLatestIDOnBranch(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, d1.ID, onDev)

	onNone, err := store.GetLatestIDOnBranch(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, changemaster.NoChange, onNone)

	require.NoError(t, store.DeleteByID(ctx, m2.ID))
	onMain, err = store.GetLatestIDOnBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, m1.ID, onMain)
}

func testIDsLessThan(t *testing.T, store changemaster.Store) {
	ctx := context.Background()
	var added []changemaster.ChangeID
	for _, rev := range []string{"r1", "r2", "r3", "r4"} {
		added = append(added, mustAdd(t, store, NewChange("a", rev, "")).ID)
	}

	res, err := store.GetIDsLessThan(ctx, added[2])
	require.NoError(t, err)
	assert.Equal(t, added[:2], res)

	res, err = store.GetIDsLessThan(ctx, added[0])
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = store.GetIDsLessThan(ctx, added[3]+100)
	require.NoError(t, err)
	assert.Equal(t, added, res)
}

func testDelete(t *testing.T, store changemaster.Store) {
	ctx := context.Background()
	ch := mustAdd(t, store, NewChange("a", "r1", "main"))

	require.NoError(t, store.DeleteByID(ctx, ch.ID))
	_, err := store.GetChange(ctx, ch.ID)
	assert.ErrorIs(t, err, changemaster.ErrChangeNotFound)

	assert.NoError(t, store.DeleteByID(ctx, ch.ID))
	assert.NoError(t, store.DeleteByID(ctx, ch.ID+1000))
}

func testIDsNeverReused(t *testing.T, store changemaster.Store) {
	ctx := context.Background()
	first := mustAdd(t, store, NewChange("a", "r1", ""))
	require.NoError(t, store.DeleteByID(ctx, first.ID))

	second := mustAdd(t, store, NewChange("a", "r2", ""))
	assert.Greater(t, second.ID, first.ID)
}

func testConcurrentAssign(t *testing.T, store changemaster.Store) {
	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[changemaster.ChangeID]bool{}

	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last changemaster.ChangeID
			for i := range perProducer {
				rev := string(rune('a'+p)) + "-" + string(rune('a'+i))
				ch, err := store.AssignAndPersist(
					context.Background(), NewChange("p", rev, ""),
				)
				if !assert.NoError(t, err) {
					return
				}
				assert.Greater(t, ch.ID, last)
				last = ch.ID

				mu.Lock()
				assert.False(t, seen[ch.ID], "duplicate id %d", ch.ID)
				seen[ch.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	all, err := store.GetChangesGreaterThan(
		context.Background(), changemaster.NoChange, 0,
	)
	require.NoError(t, err)
	assert.Len(t, all, producers*perProducer)
}
