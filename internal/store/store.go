// Package store owns the embedded SQLite database: open/boot, transactions,
// advisory locks, and config lookups. All writes anywhere in the server go
// through a transaction on this store.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type Store struct {
	DB  *sql.DB
	log zerolog.Logger
}

// Open configures a handle for the given file path. WAL journaling, a 5s
// busy timeout, and BEGIN IMMEDIATE transactions come from the DSN; foreign
// keys stay off because the seed data inserts out of order.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if path == ":memory:" {
		// A pooled :memory: DSN would give every connection its own empty
		// database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return &Store{DB: db, log: log.With().Str("sys", "store").Logger()}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Begin opens an immediate transaction (write lock taken up front).
func (s *Store) Begin() (*sql.Tx, error) {
	return s.DB.Begin()
}

// Rollback discards tx. A failed rollback is logged loudly and never
// suppressed, but it does not take the process down.
func (s *Store) Rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		s.log.Error().Bool("fatal", true).Err(err).Msg("rollback failed")
	}
}

// AcquireLock takes the named advisory lock for owner until now+ttl. It
// reports held_by_other as (false, nil): a live row owned by someone else.
func (s *Store) AcquireLock(name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := s.DB.Exec(`
		INSERT INTO locks (lock_name, owner, until_ms) VALUES (?, ?, ?)
		ON CONFLICT(lock_name) DO UPDATE SET owner = excluded.owner, until_ms = excluded.until_ms
		WHERE locks.until_ms < ? OR locks.owner = excluded.owner`,
		name, owner, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLock drops the lock if owner still holds it.
func (s *Store) ReleaseLock(name, owner string) error {
	_, err := s.DB.Exec(`DELETE FROM locks WHERE lock_name = ? AND owner = ?`, name, owner)
	return err
}

// Queryer is the shared read surface of *sql.DB and *sql.Tx. Config lookups
// take one explicitly: a caller holding an open transaction must read
// through it, because a pool read would wait on the connection the
// transaction already owns.
type Queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// ConfigStr reads a config row through q, falling back (with a warning on
// malformed rows) to def.
func (s *Store) ConfigStr(q Queryer, key, def string) string {
	var v string
	err := q.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return def
	}
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("config read failed, using default")
		return def
	}
	return v
}

func (s *Store) ConfigInt(q Queryer, key string, def int64) int64 {
	raw := s.ConfigStr(q, key, strconv.FormatInt(def, 10))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Warn().Str("key", key).Str("value", raw).Msg("malformed config value, using default")
		return def
	}
	return n
}
