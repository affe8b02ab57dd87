// Package sqltree stores a remote tree in a SQL table of flattened leaves,
// one row per leaf path. It runs on SQLite or PostgreSQL.
package sqltree

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite:   `CREATE TABLE IF NOT EXISTS tree_nodes (path TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	DriverPostgres: `CREATE TABLE IF NOT EXISTS tree_nodes (path TEXT COLLATE "C" PRIMARY KEY, value TEXT NOT NULL)`,
}

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the node table if needed.
func Open(driver, dsn string) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported tree driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping tree database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tree schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// subtree selects the node at path and all of its descendants. Descendants
// sort between "path/" and "path0" since '0' follows '/'.
func (s *Store) subtree(path string) (string, []any) {
	if path == "" {
		return "1 = 1", nil
	}
	return "(path = ? OR (path >= ? AND path < ?))", []any{path, path + "/", path + "0"}
}

func (s *Store) readRows(ctx context.Context, q querier, path string) (map[string]json.RawMessage, error) {
	where, args := s.subtree(path)
	rows, err := q.QueryContext(ctx, s.rebind("SELECT path, value FROM tree_nodes WHERE "+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		out[p] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func (s *Store) load(ctx context.Context, path string) (any, bool, error) {
	path = remote.Join(path)
	rows, err := s.readRows(ctx, s.db, path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	v, err := remote.Unflatten(path, rows)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	v, ok, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, remote.ErrNotFound
	}
	return json.Marshal(v)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	v, err := remote.Normalize(value)
	if err != nil {
		return err
	}
	path = remote.Join(path)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.clear(ctx, tx, path); err != nil {
			return err
		}
		for p, raw := range remote.Flatten(path, v) {
			if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO tree_nodes (path, value) VALUES (?, ?)"), p, string(raw)); err != nil {
				return fmt.Errorf("write %s: %w", p, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	path = remote.Join(path)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.clear(ctx, tx, path)
	})
}

func (s *Store) AppendChild(ctx context.Context, parentPath string, value any) (string, error) {
	key := remote.NewChildKey()
	if err := s.Set(ctx, remote.Join(parentPath, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) QueryByChildEquals(ctx context.Context, path, field, value string) (map[string]json.RawMessage, error) {
	v, _, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return remote.ChildrenMatching(v, field, value), nil
}

// clear removes the subtree at path plus any leaf stored at an ancestor, which
// a write below it would otherwise shadow.
func (s *Store) clear(ctx context.Context, tx *sql.Tx, path string) error {
	where, args := s.subtree(path)
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM tree_nodes WHERE "+where), args...); err != nil {
		return fmt.Errorf("clear %s: %w", path, err)
	}
	segs := remote.Split(path)
	for i := 1; i < len(segs); i++ {
		ancestor := strings.Join(segs[:i], "/")
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM tree_nodes WHERE path = ?"), ancestor); err != nil {
			return fmt.Errorf("clear %s: %w", ancestor, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
