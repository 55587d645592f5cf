// Package redis provides a changemaster.Store backed by Redis or Valkey.
// Ids come from an INCR counter inside a Lua script, so assignment and
// indexing happen atomically on the server. Every key of a Store shares the
// hash tag {prefix}, so the scripts also run on Redis Cluster
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kode4food/changemaster"
)

type Store struct {
	client    *goredis.Client
	assignLua *goredis.Script
	deleteLua *goredis.Script
	prefix    string
}

const RedisConnectTimeout = 5 * time.Second

const (
	sequenceSuffix    = ":seq"
	changesSuffix     = ":changes"
	idsSuffix         = ":ids"
	branchesSuffix    = ":branches"
	branchIndexSuffix = ":branch:"
)

var (
	// ErrUnexpectedLuaResult indicates a script returned an unusable value
	ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")

	_ changemaster.Store = (*Store)(nil)
)

// NewStore connects to the configured server and verifies it responds
func NewStore(ctx context.Context, cfg changemaster.StoreConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, RedisConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewStoreWithClient(client, cfg.Prefix), nil
}

// NewStoreWithClient wraps an existing client. The Store takes ownership
// and closes it
func NewStoreWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = changemaster.DefaultRedisPrefix
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		assignLua: goredis.NewScript(luaAssignAndPersist),
		deleteLua: goredis.NewScript(luaDeleteChange),
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) AssignAndPersist(
	ctx context.Context, ch *changemaster.Change,
) (*changemaster.Change, error) {
	raw := ch.Numbered(changemaster.NoChange)
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	keys := []string{
		s.key(sequenceSuffix),
		s.key(changesSuffix),
		s.key(idsSuffix),
		s.key(branchesSuffix),
		s.branchKey(ch.Branch),
	}
	args := []any{string(data), ch.Branch}

	result, err := s.assignLua.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, err
	}

	id, ok := result.(int64)
	if !ok || id <= 0 {
		return nil, ErrUnexpectedLuaResult
	}
	return raw.Numbered(changemaster.ChangeID(id)), nil
}

func (s *Store) GetChange(
	ctx context.Context, id changemaster.ChangeID,
) (*changemaster.Change, error) {
	data, err := s.client.HGet(ctx, s.key(changesSuffix), formatID(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, changemaster.ErrChangeNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeChange(id, data)
}

func (s *Store) GetChangesGreaterThan(
	ctx context.Context, id changemaster.ChangeID, limit int,
) ([]*changemaster.Change, error) {
	rng := &goredis.ZRangeBy{
		Min: "(" + formatID(id),
		Max: "+inf",
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}

	members, err := s.client.ZRangeByScore(ctx, s.key(idsSuffix), rng).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []*changemaster.Change{}, nil
	}

	values, err := s.client.HMGet(ctx, s.key(changesSuffix), members...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*changemaster.Change, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			// removed between the index read and the hash read
			continue
		}
		cid, err := parseID(members[i])
		if err != nil {
			return nil, err
		}
		ch, err := decodeChange(cid, data)
		if err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, nil
}

func (s *Store) GetLatestID(ctx context.Context) (changemaster.ChangeID, error) {
	return s.latestIn(ctx, s.key(idsSuffix))
}

func (s *Store) GetLatestIDOnBranch(
	ctx context.Context, branch string,
) (changemaster.ChangeID, error) {
	return s.latestIn(ctx, s.branchKey(branch))
}

func (s *Store) GetIDsLessThan(
	ctx context.Context, id changemaster.ChangeID,
) ([]changemaster.ChangeID, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key(idsSuffix), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + formatID(id),
	}).Result()
	if err != nil {
		return nil, err
	}

	res := make([]changemaster.ChangeID, 0, len(members))
	for _, m := range members {
		cid, err := parseID(m)
		if err != nil {
			return nil, err
		}
		res = append(res, cid)
	}
	return res, nil
}

// DeleteByID reads the change's branch first, since scripts may only touch
// the keys they declare. The script rechecks the branch before removing
func (s *Store) DeleteByID(ctx context.Context, id changemaster.ChangeID) error {
	field := formatID(id)
	branch, err := s.client.HGet(ctx, s.key(branchesSuffix), field).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	keys := []string{
		s.key(changesSuffix),
		s.key(idsSuffix),
		s.key(branchesSuffix),
		s.branchKey(branch),
	}
	return s.deleteLua.Run(ctx, s.client, keys, field, branch).Err()
}

func (s *Store) latestIn(
	ctx context.Context, key string,
) (changemaster.ChangeID, error) {
	members, err := s.client.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return changemaster.NoChange, err
	}
	if len(members) == 0 {
		return changemaster.NoChange, nil
	}
	return parseID(members[0])
}

func (s *Store) key(suffix string) string {
	return "{" + s.prefix + "}" + suffix
}

func (s *Store) branchKey(branch string) string {
	return s.key(branchIndexSuffix) + branch
}

func decodeChange(id changemaster.ChangeID, data string) (*changemaster.Change, error) {
	ch := &changemaster.Change{}
	if err := json.Unmarshal([]byte(data), ch); err != nil {
		return nil, err
	}
	ch.ID = id
	return ch, nil
}

func formatID(id changemaster.ChangeID) string {
	return strconv.FormatInt(int64(id), 10)
}

func parseID(s string) (changemaster.ChangeID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return changemaster.NoChange, err
	}
	return changemaster.ChangeID(id), nil
}
