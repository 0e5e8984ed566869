package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a KV backed by SQLite. String values live in kv_strings and lists
// in kv_lists, one row per element ordered by seq.
type Store struct {
	ops
	db *sql.DB
}

var (
	_ KV         = (*Store)(nil)
	_ Transactor = (*Store)(nil)
)

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "histd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: an in-memory database is per connection, and it avoids
	// "database is locked" between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{ops: ops{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Update runs fn inside a single SQLite transaction. fn must only use the KV
// it is handed; calling back into s would wait on the one open connection.
func (s *Store) Update(ctx context.Context, fn func(KV) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(ops{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Delete removes key from both tables in one transaction.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.Update(ctx, func(kv KV) error {
		var err error
		existed, err = kv.Delete(ctx, key)
		return err
	})
	return existed, err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements KV over a querier so the same code serves plain calls and
// calls made inside Update.
type ops struct {
	q querier
}

// --- Strings ---

func (o ops) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := o.q.QueryRowContext(ctx, "SELECT value FROM kv_strings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (o ops) Set(ctx context.Context, key string, value []byte) error {
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO kv_strings (key, value)
		SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM kv_lists WHERE key = ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value, key,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("set %q: %w", key, ErrWrongType)
	}
	return nil
}

func (o ops) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := o.q.QueryRowContext(ctx, `
		INSERT INTO kv_strings (key, value)
		SELECT ?, 1 WHERE NOT EXISTS (SELECT 1 FROM kv_lists WHERE key = ?)
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1
		RETURNING CAST(value AS INTEGER)`,
		key, key,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("incr %q: %w", key, ErrWrongType)
	}
	if err != nil {
		return 0, fmt.Errorf("incr %q: %w", key, err)
	}
	return n, nil
}

// --- Keys ---

func (o ops) Delete(ctx context.Context, key string) (bool, error) {
	var total int64
	for _, stmt := range []string{
		"DELETE FROM kv_strings WHERE key = ?",
		"DELETE FROM kv_lists WHERE key = ?",
	} {
		res, err := o.q.ExecContext(ctx, stmt, key)
		if err != nil {
			return false, fmt.Errorf("delete %q: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("delete %q: %w", key, err)
		}
		total += n
	}
	return total > 0, nil
}

func (o ops) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT key FROM kv_strings WHERE substr(key, 1, length(?)) = ?
		UNION
		SELECT key FROM kv_lists WHERE substr(key, 1, length(?)) = ?
		ORDER BY key`,
		prefix, prefix, prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Lists ---

func (o ops) LPush(ctx context.Context, key, value string) error {
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO kv_lists (key, seq, value)
		SELECT ?, COALESCE((SELECT MIN(seq) FROM kv_lists WHERE key = ?), 0) - 1, ?
		WHERE NOT EXISTS (SELECT 1 FROM kv_strings WHERE key = ?)`,
		key, key, value, key,
	)
	if err != nil {
		return fmt.Errorf("lpush %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lpush %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("lpush %q: %w", key, ErrWrongType)
	}
	return nil
}

func (o ops) llen(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := o.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv_lists WHERE key = ?", key).Scan(&n); err != nil {
		return 0, fmt.Errorf("llen %q: %w", key, err)
	}
	return n, nil
}

func (o ops) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if start < 0 || stop < 0 {
		n, err := o.llen(ctx, key)
		if err != nil {
			return nil, err
		}
		if start < 0 {
			start = max(start+n, 0)
		}
		if stop < 0 {
			stop += n
		}
	}
	if stop < start {
		return []string{}, nil
	}

	rows, err := o.q.QueryContext(ctx,
		"SELECT value FROM kv_lists WHERE key = ? ORDER BY seq LIMIT ? OFFSET ?",
		key, stop-start+1, start,
	)
	if err != nil {
		return nil, fmt.Errorf("lrange %q: %w", key, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (o ops) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	order, limit := "ASC", count
	switch {
	case count < 0:
		order, limit = "DESC", -count
	case count == 0:
		limit = -1
	}

	res, err := o.q.ExecContext(ctx, `
		DELETE FROM kv_lists WHERE rowid IN (
			SELECT rowid FROM kv_lists WHERE key = ? AND value = ?
			ORDER BY seq `+order+` LIMIT ?
		)`,
		key, value, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("lrem %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("lrem %q: %w", key, err)
	}
	return n, nil
}
