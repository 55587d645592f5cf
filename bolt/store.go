// Package bolt provides an embedded changemaster.Store in a single bbolt
// file. Ids come from the change bucket's persistent sequence
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kode4food/changemaster"
)

type Store struct {
	db *bbolt.DB
}

const OpenTimeout = time.Second

var (
	changesBucket  = []byte("changes")
	branchesBucket = []byte("branches")

	errMissingBucket = errors.New("bolt bucket missing")

	_ changemaster.Store = (*Store)(nil)
)

// NewStore opens or creates the database file at cfg.Path
func NewStore(cfg changemaster.StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bolt path is required")
	}

	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{changesBucket, branchesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AssignAndPersist(
	ctx context.Context, ch *changemaster.Change,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *changemaster.Change
	err := s.db.Update(func(tx *bbolt.Tx) error {
		changes, branches, err := buckets(tx)
		if err != nil {
			return err
		}

		seq, err := changes.NextSequence()
		if err != nil {
			return err
		}
		numbered := ch.Numbered(changemaster.ChangeID(seq))
		data, err := json.Marshal(numbered)
		if err != nil {
			return err
		}

		key := idKey(numbered.ID)
		if err := changes.Put(key, data); err != nil {
			return err
		}
		if err := branches.Put(branchKey(numbered.Branch, numbered.ID), nil); err != nil {
			return err
		}
		res = numbered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetChange(
	ctx context.Context, id changemaster.ChangeID,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *changemaster.Change
	err := s.db.View(func(tx *bbolt.Tx) error {
		changes, _, err := buckets(tx)
		if err != nil {
			return err
		}
		data := changes.Get(idKey(id))
		if data == nil {
			return changemaster.ErrChangeNotFound
		}
		res, err = decodeChange(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetChangesGreaterThan(
	ctx context.Context, id changemaster.ChangeID, limit int,
) ([]*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := []*changemaster.Change{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		changes, _, err := buckets(tx)
		if err != nil {
			return err
		}

		c := changes.Cursor()
		for k, v := c.Seek(idKey(id + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(res) >= limit {
				return nil
			}
			ch, err := decodeChange(v)
			if err != nil {
				return err
			}
			res = append(res, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetLatestID(ctx context.Context) (changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return changemaster.NoChange, err
	}

	latest := changemaster.NoChange
	err := s.db.View(func(tx *bbolt.Tx) error {
		changes, _, err := buckets(tx)
		if err != nil {
			return err
		}
		if k, _ := changes.Cursor().Last(); k != nil {
			latest = parseIDKey(k)
		}
		return nil
	})
	return latest, err
}

func (s *Store) GetLatestIDOnBranch(
	ctx context.Context, branch string,
) (changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return changemaster.NoChange, err
	}

	prefix := branchPrefix(branch)
	latest := changemaster.NoChange
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, branches, err := buckets(tx)
		if err != nil {
			return err
		}

		c := branches.Cursor()
		k, _ := c.Seek(branchUpperBound(branch))
		if k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}
		if k != nil && bytes.HasPrefix(k, prefix) && len(k) == len(prefix)+8 {
			latest = parseIDKey(k[len(prefix):])
		}
		return nil
	})
	return latest, err
}

func (s *Store) GetIDsLessThan(
	ctx context.Context, id changemaster.ChangeID,
) ([]changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := []changemaster.ChangeID{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		changes, _, err := buckets(tx)
		if err != nil {
			return err
		}

		c := changes.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			cid := parseIDKey(k)
			if cid >= id {
				break
			}
			res = append(res, cid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) DeleteByID(ctx context.Context, id changemaster.ChangeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		changes, branches, err := buckets(tx)
		if err != nil {
			return err
		}

		key := idKey(id)
		data := changes.Get(key)
		if data == nil {
			return nil
		}
		ch, err := decodeChange(data)
		if err != nil {
			return err
		}
		if err := branches.Delete(branchKey(ch.Branch, id)); err != nil {
			return err
		}
		return changes.Delete(key)
	})
}

func buckets(tx *bbolt.Tx) (*bbolt.Bucket, *bbolt.Bucket, error) {
	changes := tx.Bucket(changesBucket)
	branches := tx.Bucket(branchesBucket)
	if changes == nil || branches == nil {
		return nil, nil, errMissingBucket
	}
	return changes, branches, nil
}

func decodeChange(data []byte) (*changemaster.Change, error) {
	ch := &changemaster.Change{}
	if err := json.Unmarshal(data, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func idKey(id changemaster.ChangeID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func parseIDKey(key []byte) changemaster.ChangeID {
	return changemaster.ChangeID(binary.BigEndian.Uint64(key))
}

// branch index keys are the branch name, a zero byte, then the id
func branchPrefix(branch string) []byte {
	return append([]byte(branch), 0)
}

func branchUpperBound(branch string) []byte {
	return append([]byte(branch), 1)
}

func branchKey(branch string, id changemaster.ChangeID) []byte {
	return append(branchPrefix(branch), idKey(id)...)
}
