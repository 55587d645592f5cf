// Package memory provides an in-process changemaster.Store. It is intended
// for tests and short-lived tools; nothing survives the process
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/kode4food/changemaster"
)

// Store keeps changes in an id-ordered slice. Ids are assigned under the
// write lock, which makes AssignAndPersist linearizable
type Store struct {
	changes []*changemaster.Change
	lastID  changemaster.ChangeID
	closed  bool
	mu      sync.RWMutex
}

var _ changemaster.Store = (*Store)(nil)

// NewStore returns an empty Store
func NewStore() *Store {
	return &Store{}
}

func (s *Store) AssignAndPersist(
	ctx context.Context, ch *changemaster.Change,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, changemaster.ErrClosed
	}
	s.lastID++
	numbered := ch.Numbered(s.lastID)
	s.changes = append(s.changes, numbered)
	return numbered.Copy(), nil
}

func (s *Store) GetChange(
	ctx context.Context, id changemaster.ChangeID,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.find(id)
	if !ok {
		return nil, changemaster.ErrChangeNotFound
	}
	return s.changes[idx].Copy(), nil
}

func (s *Store) GetChangesGreaterThan(
	ctx context.Context, id changemaster.ChangeID, limit int,
) ([]*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, found := s.find(id)
	if found {
		idx++
	}
	rest := s.changes[idx:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}

	res := make([]*changemaster.Change, 0, len(rest))
	for _, ch := range rest {
		res = append(res, ch.Copy())
	}
	return res, nil
}

func (s *Store) GetLatestID(ctx context.Context) (changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return changemaster.NoChange, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.changes) == 0 {
		return changemaster.NoChange, nil
	}
	return s.changes[len(s.changes)-1].ID, nil
}

func (s *Store) GetLatestIDOnBranch(
	ctx context.Context, branch string,
) (changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return changemaster.NoChange, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range slices.Backward(s.changes) {
		if ch.Branch == branch {
			return ch.ID, nil
		}
	}
	return changemaster.NoChange, nil
}

func (s *Store) GetIDsLessThan(
	ctx context.Context, id changemaster.ChangeID,
) ([]changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, _ := s.find(id)
	res := make([]changemaster.ChangeID, 0, idx)
	for _, ch := range s.changes[:idx] {
		res = append(res, ch.ID)
	}
	return res, nil
}

func (s *Store) DeleteByID(ctx context.Context, id changemaster.ChangeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.find(id); ok {
		s.changes = slices.Delete(s.changes, idx, idx+1)
	}
	return nil
}

// Len returns the number of stored changes
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.changes)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) find(id changemaster.ChangeID) (int, bool) {
	return slices.BinarySearchFunc(s.changes, id,
		func(ch *changemaster.Change, id changemaster.ChangeID) int {
			return cmp.Compare(ch.ID, id)
		},
	)
}
