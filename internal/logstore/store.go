// Package logstore persists probe outcomes in a durable, transactional
// append-only log with incrementally maintained per-check counts, plus the
// push subscription table the log-write path consults to fan out
// notifications.
package logstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/last-emo-boy/statuswatch/internal/probe"
)

// Store wraps a sqlx.DB configured with WAL mode, a bounded busy timeout,
// and a schema version check at open.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating and initializing if necessary) the log store at
// path. path may be ":memory:" for tests. busyTimeout bounds how long a
// writer waits behind another writer's transaction before giving up.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_txlock=immediate", path, busyTimeout.Milliseconds())
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate", path, busyTimeout.Milliseconds())
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows only one writer at a time.

	var hasMetadata int
	err = db.Get(&hasMetadata, `SELECT count(*) FROM sqlite_master WHERE type='table' AND name='metadata'`)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if hasMetadata == 0 {
		if _, err := db.Exec(schema); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		if _, err := db.Exec(`INSERT INTO metadata (name, value) VALUES ('version', ?)`, schemaVersion); err != nil {
			return nil, fmt.Errorf("failed to write schema version: %w", err)
		}
	}

	var version string
	if err := db.Get(&version, `SELECT value FROM metadata WHERE name = 'version'`); err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != schemaVersion {
		return nil, fmt.Errorf("database schema mismatch: found version %q, expected %q", version, schemaVersion)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func timeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CheckLog is one durably persisted probe outcome.
type CheckLog struct {
	Time   time.Time
	Result probe.Result
}

// LogCounts is the tally of results of each type over some window.
type LogCounts struct {
	NumUp, NumWarn, NumError uint64
}

func (c LogCounts) add(o LogCounts) LogCounts {
	return LogCounts{
		NumUp:    c.NumUp + o.NumUp,
		NumWarn:  c.NumWarn + o.NumWarn,
		NumError: c.NumError + o.NumError,
	}
}

func (c LogCounts) sub(o LogCounts) LogCounts {
	return LogCounts{
		NumUp:    c.NumUp - o.NumUp,
		NumWarn:  c.NumWarn - o.NumWarn,
		NumError: c.NumError - o.NumError,
	}
}

// LogFilter bounds a query by time and by which result types to include.
type LogFilter struct {
	MinTime               *time.Time
	MaxTime               *time.Time
	IncludeUp, IncludeWarn, IncludeError bool
}

// DefaultFilter includes every result type and no time bound.
func DefaultFilter() LogFilter {
	return LogFilter{IncludeUp: true, IncludeWarn: true, IncludeError: true}
}

// LogOrder controls search_log's iteration order.
type LogOrder int

const (
	Unordered LogOrder = iota
	TimeAsc
	TimeDesc
)

// PushSubscription is one (check, preference) row within a subscriber's
// identity-scoped batch; the identity itself (endpoint, auth, client key)
// is supplied separately to UpdatePushSubscriptions.
type PushSubscription struct {
	CheckID    int64
	NotifyWarn bool
}

// maxRetries bounds AddLogAndPush's retry loop on busy/locked errors.
const maxRetries = 100

func isBusyErr(err error) bool {
	// modernc.org/sqlite surfaces SQLITE_BUSY/SQLITE_LOCKED through the
	// driver error's message; sqlx/database/sql don't expose a typed
	// error we can assert on portably, so this is a best-effort string
	// match used purely to decide whether a retry is worthwhile.
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
