// Package store provides the SQLite-backed session store and fetch cache.
// The agent core holds conversation state in memory only; this store is
// the external persistence seam it snapshots into.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id       TEXT PRIMARY KEY,
	title    TEXT NOT NULL DEFAULT '',
	created  INTEGER NOT NULL,
	updated  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	tool_call_id  TEXT NOT NULL DEFAULT '',
	tool_calls    TEXT NOT NULL DEFAULT '',
	created       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS fetch_cache (
	url      TEXT PRIMARY KEY,
	result   TEXT NOT NULL,
	created  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_created ON fetch_cache(created);
`

const (
	busyMaxRetries    = 10
	busyBackoffStepMs = 50
	busyMaxBackoff    = time.Second
)

// Store is a SQLite-backed session store and fetch cache.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// Open creates or opens the database at path. ttl controls fetch-cache
// freshness.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, ttl: ttl}
	s.purgeStale()
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// purgeStale removes expired fetch-cache rows.
func (s *Store) purgeStale() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	if _, err := s.db.Exec("DELETE FROM fetch_cache WHERE created < ?", cutoff); err != nil {
		log.Warn().Err(err).Msg("store: purge stale cache entries")
	}
}

// isBusy reports whether err is a SQLITE_BUSY-style contention error.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, backing off and retrying on lock contention.
func withBusyRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyMaxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		backoff := time.Duration((attempt+1)*busyBackoffStepMs) * time.Millisecond
		if backoff > busyMaxBackoff {
			backoff = busyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return err
}

// GetFetch returns a fresh cached fetch result for url.
func (s *Store) GetFetch(url string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var result string
	var created int64
	err := s.db.QueryRow("SELECT result, created FROM fetch_cache WHERE url = ?", url).Scan(&result, &created)
	if err != nil {
		return "", false
	}
	if s.ttl > 0 && time.Since(time.Unix(created, 0)) > s.ttl {
		return "", false
	}
	return result, true
}

// SetFetch stores a fetch result for url.
func (s *Store) SetFetch(url, result string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := withBusyRetry(func() error {
		_, err := s.db.Exec(
			"INSERT INTO fetch_cache (url, result, created) VALUES (?, ?, ?) ON CONFLICT(url) DO UPDATE SET result = excluded.result, created = excluded.created",
			url, result, time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("store: cache write failed")
	}
}
