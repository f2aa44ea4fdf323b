package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/last-emo-boy/statuswatch/internal/probe"
)

// SendPushFunc enqueues a push delivery for (endpoint, auth, p256dh). It
// must not block on network I/O — it is called from inside the log-write
// transaction.
type SendPushFunc func(endpointURL string, auth, p256dh []byte)

// AddLogAndPush appends one LogEntry, updates that check's running counts,
// and — if the result is not Up — enumerates subscribers and invokes
// sendPush for each one not opted out of Warn notifications. Everything
// happens in one immediate-mode transaction. Transient busy/locked failures
// are retried up to maxRetries times with a yield between attempts; callers
// that exhaust retries should treat it as fatal.
func (s *Store) AddLogAndPush(checkID int64, at time.Time, result probe.Result, sendPush SendPushFunc) (int64, error) {
	var logID int64
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		logID, err = s.tryAddLogAndPush(checkID, at, result, sendPush)
		if err == nil {
			return logID, nil
		}
		if !isBusyErr(err) {
			return 0, err
		}
		runtime.Gosched()
	}
	return 0, fmt.Errorf("add_log_and_push: exhausted %d retries: %w", maxRetries, err)
}

func (s *Store) tryAddLogAndPush(checkID int64, at time.Time, result probe.Result, sendPush SendPushFunc) (int64, error) {
	tx, err := s.db.BeginTxx(context.Background(), nil)
	if err != nil {
		return 0, fmt.Errorf("unable to start transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var info sql.NullString
	if result.Info != "" {
		info = sql.NullString{String: result.Info, Valid: true}
	}
	insertRes, err := tx.Exec(
		`INSERT INTO logs (check_id, time, result_type, info) VALUES (?, ?, ?, ?)`,
		checkID, timeToMillis(at), string(result.Type), info,
	)
	if err != nil {
		return 0, fmt.Errorf("unable to insert log entry: %w", err)
	}
	logID, err := insertRes.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("unable to read inserted log id: %w", err)
	}

	if err := applyCounts(tx, checkID, at, result.Type); err != nil {
		return 0, err
	}

	if result.Type != probe.Up {
		if err := dispatchPushes(tx, checkID, result.Type, sendPush); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("unable to commit transaction: %w", err)
	}
	committed = true
	return logID, nil
}

// applyCounts reads the latest log_counts row for check_id, then either
// creates the first row, appends a new row at up_to=now, or updates the
// existing latest row in place.
func applyCounts(tx *sqlx.Tx, checkID int64, at time.Time, resultType probe.ResultType) error {
	nowMillis := timeToMillis(at)

	var last struct {
		UpTo     int64 `db:"up_to"`
		NumUp    int64 `db:"num_up"`
		NumWarn  int64 `db:"num_warn"`
		NumError int64 `db:"num_error"`
	}
	err := tx.Get(&last,
		`SELECT up_to, num_up, num_warn, num_error FROM log_counts WHERE check_id = ? ORDER BY up_to DESC LIMIT 1`,
		checkID)

	switch resultType {
	case probe.Up:
		last.NumUp++
	case probe.Warn:
		last.NumWarn++
	case probe.Error:
		last.NumError++
	}

	if err == sql.ErrNoRows {
		_, err := tx.Exec(
			`INSERT INTO log_counts (check_id, up_to, num_up, num_warn, num_error) VALUES (?, ?, ?, ?, ?)`,
			checkID, nowMillis, last.NumUp, last.NumWarn, last.NumError)
		if err != nil {
			return fmt.Errorf("unable to insert initial counts: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read latest counts: %w", err)
	}

	if last.UpTo < nowMillis {
		_, err := tx.Exec(
			`INSERT INTO log_counts (check_id, up_to, num_up, num_warn, num_error) VALUES (?, ?, ?, ?, ?)`,
			checkID, nowMillis, last.NumUp, last.NumWarn, last.NumError)
		if err != nil {
			return fmt.Errorf("unable to insert new counts row: %w", err)
		}
		return nil
	}

	_, err = tx.Exec(
		`UPDATE log_counts SET num_up = ?, num_warn = ?, num_error = ? WHERE check_id = ? AND up_to = ?`,
		last.NumUp, last.NumWarn, last.NumError, checkID, last.UpTo)
	if err != nil {
		return fmt.Errorf("unable to update counts row: %w", err)
	}
	return nil
}

// dispatchPushes enumerates the check's push subscribers and invokes
// sendPush for each one not opted out of Warn notifications.
func dispatchPushes(tx *sqlx.Tx, checkID int64, resultType probe.ResultType, sendPush SendPushFunc) error {
	if sendPush == nil {
		return nil
	}
	rows, err := tx.Queryx(
		`SELECT endpoint_url, auth, client_p256dh, notify_warn FROM push_subscriptions WHERE check_id = ?`,
		checkID)
	if err != nil {
		return fmt.Errorf("unable to enumerate subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var endpointURL string
		var auth, p256dh []byte
		var notifyWarn bool
		if err := rows.Scan(&endpointURL, &auth, &p256dh, &notifyWarn); err != nil {
			return fmt.Errorf("unable to scan subscription row: %w", err)
		}
		if resultType == probe.Warn && !notifyWarn {
			continue
		}
		sendPush(endpointURL, auth, p256dh)
	}
	return rows.Err()
}

// QueryLog fetches a single previously-written entry by id.
func (s *Store) QueryLog(id int64) (CheckLog, error) {
	var row struct {
		Time       int64          `db:"time"`
		ResultType string         `db:"result_type"`
		Info       sql.NullString `db:"info"`
	}
	err := s.db.Get(&row, `SELECT time, result_type, info FROM logs WHERE id = ?`, id)
	if err != nil {
		return CheckLog{}, fmt.Errorf("query_log: %w", err)
	}
	return CheckLog{
		Time: millisToTime(row.Time),
		Result: probe.Result{
			Type: probe.ResultType(row.ResultType),
			Info: row.Info.String,
		},
	}, nil
}

// UpdatePushSubscriptions atomically replaces the full set of (check,
// preference) rows for (endpoint, auth): every existing row for the pair
// is deleted, then one row per item in list is inserted, all within one
// transaction. An empty list unsubscribes the client.
func (s *Store) UpdatePushSubscriptions(endpoint string, auth, p256dh []byte, list []PushSubscription) error {
	tx, err := s.db.BeginTxx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`DELETE FROM push_subscriptions WHERE endpoint_url = ? AND auth = ?`, endpoint, auth); err != nil {
		return fmt.Errorf("unable to delete existing subscriptions: %w", err)
	}

	for _, sub := range list {
		_, err := tx.Exec(
			`INSERT INTO push_subscriptions (endpoint_url, check_id, auth, client_p256dh, notify_warn) VALUES (?, ?, ?, ?, ?)`,
			endpoint, sub.CheckID, auth, p256dh, sub.NotifyWarn)
		if err != nil {
			return fmt.Errorf("unable to insert subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	committed = true
	return nil
}
