// Package session implements the embedded SQLite-backed session, quota,
// and memory store (spec §4.7 SessionStore).
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/coffersTech/logsearchd/internal/logging"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

var log = logging.ForComponent("session")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	max_bytes INTEGER NOT NULL,
	bytes_scanned_total INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS session_files (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	added_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS search_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	query_fingerprint TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS search_hits (
	record_id INTEGER NOT NULL REFERENCES search_records(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	line_number INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS memories (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, key)
);
CREATE TABLE IF NOT EXISTS facts (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	fact TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store is a mutex-guarded handle over the embedded SQLite database,
// mirroring the teacher's controller/store.go discipline of pairing an
// in-process lock with a durable backing store, layered above a real
// transactional DB here instead of a flat encrypted JSON file.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// Open opens (creating if needed) the SQLite database at path with WAL
// mode, a busy timeout, and foreign keys enabled, matching
// original_source/src/session_store.rs's pragma set.
func Open(path string, idleTTL time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return &Store{db: db, ttl: idleTTL}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// runWithRetry retries fn on SQLITE_BUSY with capped exponential backoff,
// mirroring session_store.rs's run_with_retry.
func runWithRetry(ctx context.Context, fn func() error) error {
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < 6; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		select {
		case <-time.After(backoff + time.Duration(rand.Intn(10))*time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
	}
	return fn()
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "busy")
}

// CreateSession inserts a new session row and returns its ID.
func (s *Store) CreateSession(ctx context.Context, maxBytes int64) (string, error) {
	id := uuid.NewString()
	now := time.Now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := runWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, created_at, last_seen_at, max_bytes) VALUES (?, ?, ?, ?)`, id, now, now, maxBytes)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return id, nil
}

// Exists reports whether sessionID names a live session row.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Touch updates a session's last_seen_at, extending its idle TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE id = ?`, time.Now().Unix(), sessionID)
		return err
	})
}

// usedBytes sums size_bytes across files plus value/fact byte lengths for
// a session, matching session_store.rs's quota accounting.
func (s *Store) usedBytes(ctx context.Context, sessionID string) (int64, error) {
	var filesBytes, memBytes, factBytes sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes),0) FROM session_files WHERE session_id = ?`, sessionID).Scan(&filesBytes); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(value)),0) FROM memories WHERE session_id = ?`, sessionID).Scan(&memBytes); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(fact)),0) FROM facts WHERE session_id = ?`, sessionID).Scan(&factBytes); err != nil {
		return 0, err
	}
	return filesBytes.Int64 + memBytes.Int64 + factBytes.Int64, nil
}

// AddFiles records files touched by a session, enforcing max_bytes quota.
func (s *Store) AddFiles(ctx context.Context, sessionID string, paths []string, sizes []int64) error {
	if len(paths) != len(sizes) {
		return searcherr.New(searcherr.BadRequest, "paths and sizes length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxBytes int64
	if err := s.db.QueryRowContext(ctx, `SELECT max_bytes FROM sessions WHERE id = ?`, sessionID).Scan(&maxBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return searcherr.New(searcherr.BadRequest, "unknown session %q", sessionID)
		}
		return err
	}
	used, err := s.usedBytes(ctx, sessionID)
	if err != nil {
		return err
	}
	var additional int64
	for _, sz := range sizes {
		additional += sz
	}
	if maxBytes > 0 && used+additional > maxBytes {
		return searcherr.New(searcherr.QuotaExceeded, "session %q would exceed max_session_bytes (%d+%d > %d)", sessionID, used, additional, maxBytes).
			WithRetryAfter(quotaRetryAfterMS)
	}

	return runWithRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		for i, p := range paths {
			if _, err := tx.ExecContext(ctx, `INSERT INTO session_files (session_id, path, size_bytes, added_at) VALUES (?, ?, ?, ?)`, sessionID, p, sizes[i], now); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// Session is the session metadata surfaced to callers via Get.
type Session struct {
	ID                string
	CreatedAt         time.Time
	LastSeenAt        time.Time
	MaxBytes          int64
	BytesScannedTotal int64
}

// Get returns sessionID's metadata, including its running
// bytes_scanned_total counter.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	var created, lastSeen int64
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, last_seen_at, max_bytes, bytes_scanned_total FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &created, &lastSeen, &sess.MaxBytes, &sess.BytesScannedTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, searcherr.New(searcherr.BadRequest, "unknown session %q", sessionID)
	}
	if err != nil {
		return Session{}, err
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.LastSeenAt = time.Unix(lastSeen, 0)
	return sess, nil
}

// quotaRetryAfterMS is the value surfaced on a 429 quota_exceeded
// response (spec.md §6). The quota is a cumulative byte budget, not a
// refilling token bucket, so there is no instant at which a retry is
// guaranteed to succeed; this is a flat backoff hint rather than a
// computed replenishment time.
const quotaRetryAfterMS = 30_000

// CheckQuota fails with QuotaExceeded when the session's running
// bytes_scanned_total plus projected would exceed its max_bytes, matching
// spec.md §4.7's pre-dispatch quota gate. A session with max_bytes <= 0
// has no quota.
func (s *Store) CheckQuota(ctx context.Context, sessionID string, projected int64) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.MaxBytes > 0 && sess.BytesScannedTotal+projected > sess.MaxBytes {
		return searcherr.New(searcherr.QuotaExceeded, "session %q would exceed quota (%d+%d > %d)", sessionID, sess.BytesScannedTotal, projected, sess.MaxBytes).
			WithRetryAfter(quotaRetryAfterMS)
	}
	return nil
}

// AddBytesScanned increments a session's bytes_scanned_total by n,
// monotonically, matching spec.md §3's "bytes_scanned_total is
// non-decreasing per session" invariant.
func (s *Store) AddBytesScanned(ctx context.Context, sessionID string, n int64) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return runWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET bytes_scanned_total = bytes_scanned_total + ?, last_seen_at = ? WHERE id = ?`, n, time.Now().Unix(), sessionID)
		return err
	})
}

// RemoveMemory deletes a session memory key, if present.
func (s *Store) RemoveMemory(ctx context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE session_id = ? AND key = ?`, sessionID, key)
		return err
	})
}

// Memories returns all key/value pairs stored for sessionID.
func (s *Store) Memories(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM memories WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// HistoryEntry is one past search recorded for a session.
type HistoryEntry struct {
	Fingerprint string
	CreatedAt   time.Time
	HitCount    int
}

// History returns sessionID's most recent searches, newest first,
// capped at limit.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.query_fingerprint, r.created_at, COUNT(h.record_id)
		FROM search_records r
		LEFT JOIN search_hits h ON h.record_id = r.id
		WHERE r.session_id = ?
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var createdAt int64
		if err := rows.Scan(&e.Fingerprint, &createdAt, &e.HitCount); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetMemory upserts a session memory key/value, enforcing quota.
func (s *Store) SetMemory(ctx context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxBytes int64
	if err := s.db.QueryRowContext(ctx, `SELECT max_bytes FROM sessions WHERE id = ?`, sessionID).Scan(&maxBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return searcherr.New(searcherr.BadRequest, "unknown session %q", sessionID)
		}
		return err
	}
	used, err := s.usedBytes(ctx, sessionID)
	if err != nil {
		return err
	}
	if maxBytes > 0 && used+int64(len(value)) > maxBytes {
		return searcherr.New(searcherr.QuotaExceeded, "session %q would exceed max_session_bytes setting memory %q", sessionID, key).
			WithRetryAfter(quotaRetryAfterMS)
	}

	return runWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			sessionID, key, value, time.Now().Unix())
		return err
	})
}

// RecordSearch persists a search_records row plus its hit file/line
// pairs, for session history/audit purposes.
func (s *Store) RecordSearch(ctx context.Context, sessionID, fingerprint string, hits []HitRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runWithRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO search_records (session_id, query_fingerprint, created_at) VALUES (?, ?, ?)`, sessionID, fingerprint, time.Now().Unix())
		if err != nil {
			tx.Rollback()
			return err
		}
		recordID, err := res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, h := range hits {
			if _, err := tx.ExecContext(ctx, `INSERT INTO search_hits (record_id, file_path, line_number) VALUES (?, ?, ?)`, recordID, h.FilePath, h.LineNumber); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// HitRef is a lightweight (file, line) reference persisted alongside a
// search record.
type HitRef struct {
	FilePath   string
	LineNumber int
}

// ReapExpired deletes sessions idle longer than the store's TTL,
// cascading to their files/records/memories/facts. Adapted from the
// teacher's registry prune-stale-by-last-seen loop.
func (s *Store) ReapExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := runWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err == nil && n > 0 {
		log.Info("reaped idle sessions", "count", n)
	}
	return n, err
}

// ReapLoop runs ReapExpired on a ticker until ctx is cancelled, adapted
// from the teacher's engine/cleaner.go background-ticker purge pattern.
func (s *Store) ReapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReapExpired(ctx); err != nil {
				log.Warn("session reap failed", "error", err)
			}
		}
	}
}
