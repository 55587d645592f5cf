package changemaster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/memory"
)

// brokenStore fails every read
type brokenStore struct {
	*memory.Store
}

var errBroken = errors.New("connection reset")

func (brokenStore) GetChange(
	context.Context, changemaster.ChangeID,
) (*changemaster.Change, error) {
	return nil, errBroken
}

func (brokenStore) GetChangesGreaterThan(
	context.Context, changemaster.ChangeID, int,
) ([]*changemaster.Change, error) {
	return nil, errBroken
}

func (brokenStore) GetLatestID(context.Context) (changemaster.ChangeID, error) {
	return changemaster.NoChange, errBroken
}

func seedHistory(t *testing.T, mgr *changemaster.Manager) []*changemaster.Change {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	raws := []*changemaster.Change{
		{Author: "alice", Revision: "r1", Branch: "main", Category: "ci"},
		{Author: "bob", Revision: "r2", Branch: "dev", Category: "ci"},
		{Author: "alice", Revision: "r3", Branch: "dev", Category: "docs"},
		{Author: "carol", Revision: "r4", Branch: "main", Category: "ci"},
		{Author: "bob", Revision: "r5", Branch: "main", Category: "docs"},
	}

	res := make([]*changemaster.Change, 0, len(raws))
	for i, raw := range raws {
		raw.When = base.Add(time.Duration(i) * time.Hour)
		ch, err := mgr.AddChange(context.Background(), raw)
		require.NoError(t, err)
		res = append(res, ch)
	}
	return res
}

func collect(
	t *testing.T, mgr *changemaster.Manager, f changemaster.Filter,
) []string {
	t.Helper()
	var revs []string
	for ch, err := range mgr.EventGenerator(context.Background(), f) {
		require.NoError(t, err)
		revs = append(revs, ch.Revision)
	}
	return revs
}

func TestLatestChangeNumber(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	ctx := context.Background()

	latest, err := mgr.GetLatestChangeNumber(ctx)
	assert.NoError(t, err)
	assert.Equal(t, changemaster.NoChange, latest)

	seedHistory(t, mgr)

	latest, err = mgr.GetLatestChangeNumber(ctx)
	assert.NoError(t, err)
	assert.Equal(t, changemaster.ChangeID(5), latest)

	onDev, err := mgr.GetLatestChangeNumberOnBranch(ctx, "dev")
	assert.NoError(t, err)
	assert.Equal(t, changemaster.ChangeID(3), onDev)

	onNone, err := mgr.GetLatestChangeNumberOnBranch(ctx, "release")
	assert.NoError(t, err)
	assert.Equal(t, changemaster.NoChange, onNone)
}

func TestGetChangesByNumber(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	seeded := seedHistory(t, mgr)

	res, err := mgr.GetChangesByNumber(context.Background(),
		[]changemaster.ChangeID{4, 42, 1},
	)
	assert.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, seeded[3], res[0])
	assert.Nil(t, res[1])
	assert.Equal(t, seeded[0], res[2])

	_, ok, err := mgr.GetChangeNumbered(context.Background(), 42)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestGetChangesGreaterThanPaged(t *testing.T) {
	cfg := changemaster.DefaultConfig()
	cfg.PageSize = 2
	mgr, _ := newManager(t, cfg)
	seedHistory(t, mgr)

	res, err := mgr.GetChangesGreaterThan(context.Background(), 1)
	assert.NoError(t, err)
	ids := []changemaster.ChangeID{}
	for _, ch := range res {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []changemaster.ChangeID{2, 3, 4, 5}, ids)

	res, err = mgr.GetChangesGreaterThan(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, res)
}

func TestEventGeneratorFilters(t *testing.T) {
	cfg := changemaster.DefaultConfig()
	cfg.PageSize = 2
	mgr, _ := newManager(t, cfg)
	seeded := seedHistory(t, mgr)

	tests := []struct {
		name   string
		filter changemaster.Filter
		want   []string
	}{
		{"everything", changemaster.Filter{}, []string{"r1", "r2", "r3", "r4", "r5"}},
		{"branch", changemaster.Filter{Branches: []string{"dev"}}, []string{"r2", "r3"}},
		{"category", changemaster.Filter{Categories: []string{"docs"}}, []string{"r3", "r5"}},
		{"committer", changemaster.Filter{Committers: []string{"bob", "carol"}}, []string{"r2", "r4", "r5"}},
		{"min time", changemaster.Filter{MinTime: seeded[3].When}, []string{"r4", "r5"}},
		{
			"combined",
			changemaster.Filter{
				Branches:   []string{"main"},
				Categories: []string{"ci"},
			},
			[]string{"r1", "r4"},
		},
		{"no match", changemaster.Filter{Branches: []string{"release"}}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, collect(t, mgr, tc.filter))
		})
	}
}

func TestEventGeneratorRestartable(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	seedHistory(t, mgr)

	filter := changemaster.Filter{Committers: []string{"alice"}}
	seq := mgr.EventGenerator(context.Background(), filter)

	var first, second []string
	for ch, err := range seq {
		require.NoError(t, err)
		first = append(first, ch.Revision)
	}
	for ch, err := range seq {
		require.NoError(t, err)
		second = append(second, ch.Revision)
	}
	assert.Equal(t, []string{"r1", "r3"}, first)
	assert.Equal(t, first, second)
}

func TestEventGeneratorBoundedByLatest(t *testing.T) {
	cfg := changemaster.DefaultConfig()
	cfg.PageSize = 1
	mgr, _ := newManager(t, cfg)
	seedHistory(t, mgr)

	ctx := context.Background()
	var revs []string
	added := false
	for ch, err := range mgr.EventGenerator(ctx, changemaster.Filter{}) {
		require.NoError(t, err)
		revs = append(revs, ch.Revision)
		if !added {
			_, err := mgr.AddChange(ctx, rawChange("dave", "r6"))
			require.NoError(t, err)
			added = true
		}
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5"}, revs)
	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5", "r6"},
		collect(t, mgr, changemaster.Filter{}),
	)
}

func TestEventGeneratorEarlyBreak(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	seedHistory(t, mgr)

	var revs []string
	for ch, err := range mgr.EventGenerator(context.Background(), changemaster.Filter{}) {
		require.NoError(t, err)
		revs = append(revs, ch.Revision)
		if len(revs) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"r1", "r2"}, revs)
}

func TestEventGeneratorEmpty(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	assert.Nil(t, collect(t, mgr, changemaster.Filter{}))
}

func TestEventGeneratorCanceled(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	seedHistory(t, mgr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for ch, err := range mgr.EventGenerator(ctx, changemaster.Filter{}) {
		assert.Nil(t, ch)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestHistoryStorageErrors(t *testing.T) {
	store := brokenStore{Store: memory.NewStore()}
	mgr, err := changemaster.New(store, changemaster.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = mgr.Close() }()

	ctx := context.Background()
	var se *changemaster.StorageError

	_, _, err = mgr.GetChangeNumbered(ctx, 1)
	assert.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, errBroken)

	_, err = mgr.GetChangesByNumber(ctx, []changemaster.ChangeID{1})
	assert.ErrorIs(t, err, errBroken)

	_, err = mgr.GetChangesGreaterThan(ctx, 0)
	assert.ErrorIs(t, err, errBroken)

	_, err = mgr.GetLatestChangeNumber(ctx)
	assert.True(t, errors.As(err, &se))

	for ch, err := range mgr.EventGenerator(ctx, changemaster.Filter{}) {
		assert.Nil(t, ch)
		assert.ErrorIs(t, err, errBroken)
	}
}
