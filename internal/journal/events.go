package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertEvent appends an event to a run's trace and returns the
// server-assigned monotonic id. The insert commits before the observer
// broadcast fires.
func (s *Store) InsertEvent(ctx context.Context, event *Event) (int64, error) {
	if event == nil || event.RunID == "" {
		return 0, fmt.Errorf("event and run id are required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.acquireWriter(ctx); err != nil {
		return 0, err
	}
	defer s.releaseWriter()

	var latency any
	if event.LatencyMs != nil {
		latency = *event.LatencyMs
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_events (run_id, kind, ts, method, tool_name, params, result, error, chaos, latency_ms)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?)
	`, event.RunID, string(event.Kind), event.Timestamp.UTC(), event.Method, event.ToolName,
		nullBytes(event.Params), nullBytes(event.Result), nullBytes(event.Error),
		nullBytes(event.Chaos), latency)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	event.ID = id

	if s.observer != nil {
		s.observer.EventInserted(event)
	}
	return id, nil
}

const eventSelect = `
	SELECT id, run_id, kind, ts, COALESCE(method, ''), COALESCE(tool_name, ''),
	       COALESCE(params, ''), COALESCE(result, ''), COALESCE(error, ''),
	       COALESCE(chaos, ''), latency_ms
	FROM trace_events`

// GetEvents returns a run's events ordered by id ascending.
func (s *Store) GetEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, eventSelect+`
		WHERE run_id = ? ORDER BY id ASC LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetEventsByKind returns a run's events of one kind, id ascending.
func (s *Store) GetEventsByKind(ctx context.Context, runID string, kind EventKind) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, eventSelect+`
		WHERE run_id = ? AND kind = ? ORDER BY id ASC
	`, runID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecomputeCounters derives a run's counters from its events. Stored
// row counters must equal this at any terminal state.
func (s *Store) RecomputeCounters(ctx context.Context, runID string) (*Counters, error) {
	return s.recomputeCounters(ctx, runID)
}

func (s *Store) recomputeCounters(ctx context.Context, runID string) (*Counters, error) {
	var c Counters
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN kind = 'tool_call' THEN 1 END),
			COUNT(CASE WHEN kind = 'rpc_response' AND error IS NOT NULL THEN 1 END)
		FROM trace_events WHERE run_id = ?
	`, runID)
	if err := row.Scan(&c.TotalCalls, &c.TotalErrors); err != nil {
		return nil, fmt.Errorf("recompute counters: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(result, '') FROM trace_events
		WHERE run_id = ? AND kind = 'stress_mutation'
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		total++
		var payload struct {
			Outcome string `json:"outcome"`
		}
		if result != "" {
			_ = json.Unmarshal([]byte(result), &payload)
		}
		switch payload.Outcome {
		case "pass":
			c.StressPassed++
		case "graceful_fail":
			c.StressGraceful++
		case "crash_or_hang":
			c.StressCrashed++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total > 0 {
		c.StressScore = int(float64(c.StressPassed+c.StressGraceful)/float64(total)*100 + 0.5)
	}
	return &c, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var kind, params, result, errPayload, chaosPayload string
	var latency sql.NullInt64
	err := row.Scan(&ev.ID, &ev.RunID, &kind, &ev.Timestamp, &ev.Method, &ev.ToolName,
		&params, &result, &errPayload, &chaosPayload, &latency)
	if err != nil {
		return nil, err
	}
	ev.Kind = EventKind(kind)
	if params != "" {
		ev.Params = json.RawMessage(params)
	}
	if result != "" {
		ev.Result = json.RawMessage(result)
	}
	if errPayload != "" {
		ev.Error = json.RawMessage(errPayload)
	}
	if chaosPayload != "" {
		ev.Chaos = json.RawMessage(chaosPayload)
	}
	if latency.Valid {
		v := latency.Int64
		ev.LatencyMs = &v
	}
	return &ev, nil
}
