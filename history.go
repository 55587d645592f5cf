package changemaster

import (
	"context"
	"iter"
)

// History is read-only access to persisted changes for catch-up and
// display consumers. It never blocks ingestion
type History struct {
	store    Store
	cache    *changeCache
	pageSize int
}

func newHistory(store Store, cache *changeCache, pageSize int) *History {
	return &History{
		store:    store,
		cache:    cache,
		pageSize: pageSize,
	}
}

// GetChangeNumbered returns the change with the given id. An absent id is
// reported through ok, not as an error
func (h *History) GetChangeNumbered(
	ctx context.Context, id ChangeID,
) (*Change, bool, error) {
	ch, err := h.cache.Get(ctx, id)
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "get change", Err: err}
	}
	return ch, true, nil
}

// GetChangesByNumber returns the changes for the given ids, position for
// position. Absent ids yield nil entries
func (h *History) GetChangesByNumber(
	ctx context.Context, ids []ChangeID,
) ([]*Change, error) {
	res := make([]*Change, len(ids))
	for i, id := range ids {
		ch, ok, err := h.GetChangeNumbered(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			res[i] = ch
		}
	}
	return res, nil
}

// GetChangesGreaterThan returns every change with an id strictly greater
// than the provided one, in increasing id order
func (h *History) GetChangesGreaterThan(
	ctx context.Context, id ChangeID,
) ([]*Change, error) {
	var res []*Change
	for {
		page, err := h.store.GetChangesGreaterThan(ctx, id, h.pageSize)
		if err != nil {
			return nil, &StorageError{Op: "get changes", Err: err}
		}
		res = append(res, page...)
		if len(page) < h.pageSize {
			return res, nil
		}
		id = page[len(page)-1].ID
	}
}

// GetLatestChangeNumber returns the highest assigned id still stored, or
// NoChange
func (h *History) GetLatestChangeNumber(ctx context.Context) (ChangeID, error) {
	id, err := h.store.GetLatestID(ctx)
	if err != nil {
		return NoChange, &StorageError{Op: "get latest id", Err: err}
	}
	return id, nil
}

// GetLatestChangeNumberOnBranch returns the highest stored id on the
// branch, or NoChange
func (h *History) GetLatestChangeNumberOnBranch(
	ctx context.Context, branch string,
) (ChangeID, error) {
	id, err := h.store.GetLatestIDOnBranch(ctx, branch)
	if err != nil {
		return NoChange, &StorageError{Op: "get latest id", Err: err}
	}
	return id, nil
}

// EventGenerator returns a lazy, finite sequence of the changes matching
// the filter, in increasing id order. Each iteration starts a fresh
// traversal bounded by the latest id at the moment it begins, so changes
// ingested mid-iteration are not included
func (h *History) EventGenerator(
	ctx context.Context, filter Filter,
) iter.Seq2[*Change, error] {
	return func(yield func(*Change, error) bool) {
		last, err := h.GetLatestChangeNumber(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		after := NoChange
		for after < last {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := h.store.GetChangesGreaterThan(ctx, after, h.pageSize)
			if err != nil {
				yield(nil, &StorageError{Op: "get changes", Err: err})
				return
			}
			if len(page) == 0 {
				return
			}
			for _, ch := range page {
				if ch.ID > last {
					return
				}
				after = ch.ID
				if !filter.Matches(ch) {
					continue
				}
				if !yield(ch, nil) {
					return
				}
			}
		}
	}
}
