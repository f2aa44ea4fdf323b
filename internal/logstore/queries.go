package logstore

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/last-emo-boy/statuswatch/internal/probe"
)

// SearchLog streams every log entry for checkID matching filter, in the
// order requested, calling visit once per row. visit returning false stops
// the scan early. Unlike CountLogs this walks the logs table directly rather
// than log_counts, since callers need the individual entries, not a tally.
func (s *Store) SearchLog(checkID int64, filter LogFilter, order LogOrder, visit func(id int64, log CheckLog) bool) error {
	sqlStr := `SELECT id, time, result_type, info FROM logs WHERE check_id = ?`
	args := []any{checkID}

	if filter.MinTime != nil {
		sqlStr += ` AND time >= ?`
		args = append(args, timeToMillis(*filter.MinTime))
	}
	if filter.MaxTime != nil {
		sqlStr += ` AND time < ?`
		args = append(args, timeToMillis(*filter.MaxTime))
	}
	if !filter.IncludeUp {
		sqlStr += ` AND result_type != 'up'`
	}
	if !filter.IncludeWarn {
		sqlStr += ` AND result_type != 'warn'`
	}
	if !filter.IncludeError {
		sqlStr += ` AND result_type != 'error'`
	}
	switch order {
	case TimeAsc:
		sqlStr += ` ORDER BY time ASC`
	case TimeDesc:
		sqlStr += ` ORDER BY time DESC`
	}

	rows, err := s.db.Queryx(sqlStr, args...)
	if err != nil {
		return fmt.Errorf("search_log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, ms int64
		var resultType string
		var info sql.NullString
		if err := rows.Scan(&id, &ms, &resultType, &info); err != nil {
			return fmt.Errorf("search_log: scan: %w", err)
		}
		log := CheckLog{
			Time: millisToTime(ms),
			Result: probe.Result{
				Type: probe.ResultType(resultType),
				Info: info.String,
			},
		}
		if !visit(id, log) {
			break
		}
	}
	return rows.Err()
}

// CountLogs tallies logs for checkID within filter's time bounds (min
// inclusive, max exclusive; result-type inclusion in filter is ignored —
// log_counts only tracks per-type totals). It answers from the sparse
// log_counts table wherever a boundary row lets it, falling back to a
// direct COUNT(*) over logs for the fine-grained edges that log_counts
// wasn't sampled at.
func (s *Store) CountLogs(checkID int64, filter LogFilter) (LogCounts, error) {
	boundedQuery := `SELECT up_to, num_up, num_warn, num_error FROM log_counts WHERE check_id = ?`
	boundedArgs := []any{checkID}
	if filter.MaxTime != nil {
		boundedQuery += ` AND up_to < ?`
		boundedArgs = append(boundedArgs, timeToMillis(*filter.MaxTime))
	}
	if filter.MinTime != nil {
		boundedQuery += ` AND up_to >= ?`
		boundedArgs = append(boundedArgs, timeToMillis(*filter.MinTime))
	}

	var minMillis, maxMillis *int64
	if filter.MinTime != nil {
		m := timeToMillis(*filter.MinTime)
		minMillis = &m
	}
	if filter.MaxTime != nil {
		m := timeToMillis(*filter.MaxTime)
		maxMillis = &m
	}

	var last struct {
		UpTo     int64 `db:"up_to"`
		NumUp    int64 `db:"num_up"`
		NumWarn  int64 `db:"num_warn"`
		NumError int64 `db:"num_error"`
	}
	err := s.db.Get(&last, boundedQuery+` ORDER BY up_to DESC LIMIT 1`, boundedArgs...)
	if err == sql.ErrNoRows {
		return s.selectCountLogs(checkID, minMillis, true, maxMillis, false)
	}
	if err != nil {
		return LogCounts{}, fmt.Errorf("count_logs: %w", err)
	}
	lastCounts := LogCounts{NumUp: uint64(last.NumUp), NumWarn: uint64(last.NumWarn), NumError: uint64(last.NumError)}

	if filter.MinTime == nil {
		tail, err := s.selectCountLogs(checkID, &last.UpTo, false, maxMillis, false)
		if err != nil {
			return LogCounts{}, err
		}
		return lastCounts.add(tail), nil
	}

	var first struct {
		UpTo     int64 `db:"up_to"`
		NumUp    int64 `db:"num_up"`
		NumWarn  int64 `db:"num_warn"`
		NumError int64 `db:"num_error"`
	}
	if err := s.db.Get(&first, boundedQuery+` ORDER BY up_to ASC LIMIT 1`, boundedArgs...); err != nil {
		return LogCounts{}, fmt.Errorf("count_logs: %w", err)
	}
	if first.UpTo == last.UpTo {
		return s.selectCountLogs(checkID, minMillis, true, maxMillis, false)
	}
	firstCounts := LogCounts{NumUp: uint64(first.NumUp), NumWarn: uint64(first.NumWarn), NumError: uint64(first.NumError)}

	res := lastCounts.sub(firstCounts)
	head, err := s.selectCountLogs(checkID, minMillis, true, &first.UpTo, true)
	if err != nil {
		return LogCounts{}, err
	}
	tail, err := s.selectCountLogs(checkID, &last.UpTo, false, maxMillis, false)
	if err != nil {
		return LogCounts{}, err
	}
	return res.add(head).add(tail), nil
}

// selectCountLogs counts logs table rows directly via GROUP BY, with
// from/to optionally inclusive or exclusive. Used for the brute-force edges
// CountLogs can't resolve from the sparse log_counts table.
func (s *Store) selectCountLogs(checkID int64, from *int64, includeFrom bool, to *int64, includeTo bool) (LogCounts, error) {
	var b strings.Builder
	b.WriteString(`SELECT result_type, count(*) FROM logs WHERE check_id = ?`)
	args := []any{checkID}
	if from != nil {
		if includeFrom {
			b.WriteString(` AND time >= ?`)
		} else {
			b.WriteString(` AND time > ?`)
		}
		args = append(args, *from)
	}
	if to != nil {
		if includeTo {
			b.WriteString(` AND time <= ?`)
		} else {
			b.WriteString(` AND time < ?`)
		}
		args = append(args, *to)
	}
	b.WriteString(` GROUP BY result_type`)

	rows, err := s.db.Queryx(b.String(), args...)
	if err != nil {
		return LogCounts{}, fmt.Errorf("select_count_logs: %w", err)
	}
	defer rows.Close()

	var out LogCounts
	for rows.Next() {
		var resultType string
		var count int64
		if err := rows.Scan(&resultType, &count); err != nil {
			return LogCounts{}, fmt.Errorf("select_count_logs: scan: %w", err)
		}
		switch probe.ResultType(resultType) {
		case probe.Up:
			out.NumUp += uint64(count)
		case probe.Warn:
			out.NumWarn += uint64(count)
		case probe.Error:
			out.NumError += uint64(count)
		default:
			return LogCounts{}, fmt.Errorf("select_count_logs: invalid result_type %q", resultType)
		}
	}
	return out, rows.Err()
}
