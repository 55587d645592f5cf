// Package sqlite provides a changemaster.Store backed by SQLite. Ids come
// from an AUTOINCREMENT key, which SQLite never reuses even after the
// highest row is deleted
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kode4food/changemaster"
)

// Store persists changes in SQLite
type Store struct {
	sqlDB *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	author      TEXT NOT NULL,
	files       TEXT NOT NULL DEFAULT '[]',
	comments    TEXT NOT NULL DEFAULT '',
	branch      TEXT NOT NULL DEFAULT '',
	revision    TEXT NOT NULL,
	repository  TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS changes_branch_idx ON changes (branch, id);
`

const changeColumns = `id, author, files, comments, branch, revision,
	repository, category, project, created_at`

var _ changemaster.Store = (*Store)(nil)

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// NewStore opens a SQLite change store at cfg.Path and applies the schema
func NewStore(cfg changemaster.StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	cleanPath := filepath.Clean(cfg.Path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection serializes writers, which keeps id assignment
	// linearizable without relying on busy retries
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) AssignAndPersist(
	ctx context.Context, ch *changemaster.Change,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := ch.Files
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("encode files: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO changes (
		   author, files, comments, branch, revision,
		   repository, category, project, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.Author, string(filesJSON), ch.Comments, ch.Branch, ch.Revision,
		ch.Repository, ch.Category, ch.Project, toNanos(ch.When),
	)
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	return ch.Numbered(changemaster.ChangeID(id)), nil
}

func (s *Store) GetChange(
	ctx context.Context, id changemaster.ChangeID,
) (*changemaster.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE id = ?`, int64(id),
	)
	ch, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE id > ? ORDER BY id LIMIT ?`,
		int64(id), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := []*changemaster.Change{}
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("get changes: %w", err)
		}
		res = append(res, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}
	return res, nil
}

func (s *Store) GetLatestID(ctx context.Context) (changemaster.ChangeID, error) {
	return s.latest(ctx, `SELECT MAX(id) FROM changes`)
}

func (s *Store) GetLatestIDOnBranch(
	ctx context.Context, branch string,
) (changemaster.ChangeID, error) {
	return s.latest(ctx, `SELECT MAX(id) FROM changes WHERE branch = ?`, branch)
}

func (s *Store) GetIDsLessThan(
	ctx context.Context, id changemaster.ChangeID,
) ([]changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM changes WHERE id < ? ORDER BY id`, int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("get ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := []changemaster.ChangeID{}
	for rows.Next() {
		var cid int64
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("get ids: %w", err)
		}
		res = append(res, changemaster.ChangeID(cid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get ids: %w", err)
	}
	return res, nil
}

func (s *Store) DeleteByID(ctx context.Context, id changemaster.ChangeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM changes WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete change: %w", err)
	}
	return nil
}

func (s *Store) latest(
	ctx context.Context, query string, args ...any,
) (changemaster.ChangeID, error) {
	if err := ctx.Err(); err != nil {
		return changemaster.NoChange, err
	}

	var id sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return changemaster.NoChange, fmt.Errorf("get latest id: %w", err)
	}
	if !id.Valid {
		return changemaster.NoChange, nil
	}
	return changemaster.ChangeID(id.Int64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (*changemaster.Change, error) {
	var (
		ch        changemaster.Change
		id        int64
		files     string
		createdAt int64
	)
	err := row.Scan(
		&id, &ch.Author, &files, &ch.Comments, &ch.Branch, &ch.Revision,
		&ch.Repository, &ch.Category, &ch.Project, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &ch.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	ch.ID = changemaster.ChangeID(id)
	ch.When = fromNanos(createdAt)
	return &ch, nil
}
