// Package postgres provides a changemaster.Store backed by PostgreSQL. Ids
// come from a BIGSERIAL sequence, which never hands out the same value twice
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kode4food/changemaster"
)

type Store struct {
	pool  *pgxpool.Pool
	table string
}

const ConnectTimeout = 5 * time.Second

const changeColumns = `id, author, files, comments, branch, revision,
	repository, category, project, created_at`

var _ changemaster.Store = (*Store)(nil)

// NewStore connects to the database named by cfg.DSN and creates the change
// table, named after cfg.Prefix, when it doesn't exist
func NewStore(ctx context.Context, cfg changemaster.StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	connCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connCtx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	name := tableName(cfg.Prefix)
	s := &Store{
		pool:  pool,
		table: pgx.Identifier{name}.Sanitize(),
	}
	if err := s.migrate(connCtx, name); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			author      TEXT NOT NULL,
			files       TEXT[] NOT NULL DEFAULT '{}',
			comments    TEXT NOT NULL DEFAULT '',
			branch      TEXT NOT NULL DEFAULT '',
			revision    TEXT NOT NULL,
			repository  TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			project     TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		)`, s.table,
	))
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (branch, id)`,
		pgx.Identifier{name + "_branch_idx"}.Sanitize(), s.table,
	))
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) AssignAndPersist(
	ctx context.Context, ch *changemaster.Change,
) (*changemaster.Change, error) {
	files := ch.Files
	if files == nil {
		files = []string{}
	}

	var id int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (author, files, comments, branch, revision,
			repository, category, project, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`, s.table),
		ch.Author, files, ch.Comments, ch.Branch, ch.Revision,
		ch.Repository, ch.Category, ch.Project, ch.When.UTC(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	return ch.Numbered(changemaster.ChangeID(id)), nil
}

func (s *Store) GetChange(
	ctx context.Context, id changemaster.ChangeID,
) (*changemaster.Change, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, changeColumns, s.table,
	), int64(id))
	if err != nil {
		return nil, fmt.Errorf("get change: %w", err)
	}

	ch, err := pgx.CollectExactlyOneRow(rows, scanChange)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, changemaster.ErrChangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get change: %w", err)
	}
	return ch, nil
}

func (s *Store) GetChangesGreaterThan(
	ctx context.Context, id changemaster.ChangeID, limit int,
) ([]*changemaster.Change, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE id > $1 ORDER BY id`, changeColumns, s.table,
	)
	args := []any{int64(id)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}
	res, err := pgx.CollectRows(rows, scanChange)
	if err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}
	return res, nil
}

func (s *Store) GetLatestID(ctx context.Context) (changemaster.ChangeID, error) {
	return s.latest(ctx, fmt.Sprintf(`SELECT MAX(id) FROM %s`, s.table))
}

func (s *Store) GetLatestIDOnBranch(
	ctx context.Context, branch string,
) (changemaster.ChangeID, error) {
	return s.latest(ctx, fmt.Sprintf(
		`SELECT MAX(id) FROM %s WHERE branch = $1`, s.table,
	), branch)
}

func (s *Store) GetIDsLessThan(
	ctx context.Context, id changemaster.ChangeID,
) ([]changemaster.ChangeID, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE id < $1 ORDER BY id`, s.table,
	), int64(id))
	if err != nil {
		return nil, fmt.Errorf("get ids: %w", err)
	}
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (changemaster.ChangeID, error) {
		var id int64
		err := row.Scan(&id)
		return changemaster.ChangeID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("get ids: %w", err)
	}
	return res, nil
}

func (s *Store) DeleteByID(ctx context.Context, id changemaster.ChangeID) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1`, s.table,
	), int64(id))
	if err != nil {
		return fmt.Errorf("delete change: %w", err)
	}
	return nil
}

func (s *Store) latest(
	ctx context.Context, query string, args ...any,
) (changemaster.ChangeID, error) {
	var id *int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return changemaster.NoChange, fmt.Errorf("get latest id: %w", err)
	}
	if id == nil {
		return changemaster.NoChange, nil
	}
	return changemaster.ChangeID(*id), nil
}

func scanChange(row pgx.CollectableRow) (*changemaster.Change, error) {
	var (
		ch changemaster.Change
		id int64
	)
	err := row.Scan(
		&id, &ch.Author, &ch.Files, &ch.Comments, &ch.Branch, &ch.Revision,
		&ch.Repository, &ch.Category, &ch.Project, &ch.When,
	)
	if err != nil {
		return nil, err
	}
	ch.ID = changemaster.ChangeID(id)
	ch.When = ch.When.UTC()
	return &ch, nil
}

func tableName(prefix string) string {
	if prefix == "" {
		prefix = changemaster.DefaultRedisPrefix
	}
	return prefix + "_changes"
}
