package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores entries in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	ns         TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	body       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (ns, key)
);
`

// OpenSQLite opens (creating if needed) the cache database at path. An
// empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "cache: create dir")
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	if dsn == ":memory:" {
		// Each pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, ns, key string) (*Entry, error) {
	var e Entry
	var fetched string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, body, fetched_at FROM responses WHERE ns = ? AND key = ?`, ns, key,
	).Scan(&e.Status, &e.Body, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	e.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetched)
	return &e, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, ns, key string, e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (ns, key, status, body, fetched_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ns, key) DO UPDATE SET status = excluded.status, body = excluded.body, fetched_at = excluded.fetched_at`,
		ns, key, e.Status, body, e.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrap(err, "cache: put")
}

func (s *SQLiteBackend) Clear(ctx context.Context, ns string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE ns = ?`, ns)
	if err != nil {
		return 0, eris.Wrap(err, "cache: clear")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteBackend) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses`)
	if err != nil {
		return 0, eris.Wrap(err, "cache: clear all")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Entries: map[string]int{}, Bytes: map[string]int64{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ns, COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM responses GROUP BY ns`)
	if err != nil {
		return st, eris.Wrap(err, "cache: stats")
	}
	defer rows.Close()
	for rows.Next() {
		var ns string
		var n int
		var size int64
		if err := rows.Scan(&ns, &n, &size); err != nil {
			return st, eris.Wrap(err, "cache: scan stats")
		}
		st.Entries[ns] = n
		st.Bytes[ns] = size
	}
	return st, eris.Wrap(rows.Err(), "cache: stats rows")
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
