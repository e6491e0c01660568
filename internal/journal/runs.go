package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateRun creates a pending run, snapshotting the chaos config by
// value. Before inserting, any run still marked running for the same
// (agent, kind) pair is promoted to completed with its total_calls
// recomputed from events: crash recovery for sessions that never
// reached a terminal status.
func (s *Store) CreateRun(ctx context.Context, target string, chaosConfig json.RawMessage, agentID string, kind RunKind) (*Run, error) {
	if target == "" {
		return nil, fmt.Errorf("run target is required")
	}
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	if err := s.cleanupStaleLocked(ctx, agentID, kind); err != nil {
		return nil, err
	}

	run := &Run{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Kind:        kind,
		Target:      target,
		ChaosConfig: chaosConfig,
		Status:      RunPending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, agent_id, kind, target, chaos_config, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, nullString(run.AgentID), string(run.Kind), run.Target,
		nullBytes(run.ChaosConfig), string(run.Status), run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if s.observer != nil {
		s.observer.RunChanged(run)
	}
	return run, nil
}

// cleanupStaleLocked completes runs abandoned in the running state for
// the same (agent, kind) scope. Scoping avoids disturbing unrelated
// concurrent runs.
func (s *Store) cleanupStaleLocked(ctx context.Context, agentID string, kind RunKind) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM runs
		WHERE status = ? AND kind = ? AND COALESCE(agent_id, '') = ?
	`, string(RunRunning), string(kind), agentID)
	if err != nil {
		return fmt.Errorf("find stale runs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range stale {
		counters, err := s.recomputeCounters(ctx, id)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, total_calls = ?, total_errors = ?, ended_at = ?
			WHERE id = ?
		`, string(RunCompleted), counters.TotalCalls, counters.TotalErrors, now, id)
		if err != nil {
			return fmt.Errorf("complete stale run %s: %w", id, err)
		}
		s.logger.Info("promoted stale run to completed",
			"run_id", id, "total_calls", counters.TotalCalls)
		if s.observer != nil {
			if run, err := s.getRun(ctx, id); err == nil {
				s.observer.RunChanged(run)
			}
		}
	}
	return nil
}

// UpdateRunStatus transitions a run's status. Backwards transitions are
// rejected with ErrInvalidTransition. Moving to running sets started_at;
// reaching a terminal state sets ended_at and stores the counters.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status RunStatus, counters *Counters) (*Run, error) {
	if statusRank(status) < 0 {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	current, err := s.getRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if statusRank(status) <= statusRank(current.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	sets := []string{"status = ?"}
	args := []any{string(status)}
	if status == RunRunning {
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	}
	if status == RunCompleted || status == RunFailed {
		sets = append(sets, "ended_at = ?")
		args = append(args, now)
		if current.StartedAt == nil {
			sets = append(sets, "started_at = ?")
			args = append(args, now)
		}
	}
	if counters != nil {
		sets = append(sets,
			"total_calls = ?", "total_errors = ?",
			"stress_passed = ?", "stress_graceful = ?", "stress_crashed = ?", "stress_score = ?")
		args = append(args, counters.TotalCalls, counters.TotalErrors,
			counters.StressPassed, counters.StressGraceful, counters.StressCrashed, counters.StressScore)
	}
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx,
		"UPDATE runs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return nil, fmt.Errorf("update run status: %w", err)
	}

	run, err := s.getRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.RunChanged(run)
	}
	return run, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.getRun(ctx, id)
}

func (s *Store) getRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

const runSelect = `
	SELECT id, COALESCE(agent_id, ''), kind, target, COALESCE(chaos_config, ''), status,
	       total_calls, total_errors, stress_passed, stress_graceful, stress_crashed, stress_score,
	       created_at, started_at, ended_at
	FROM runs`

// ListRuns returns runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var conds []string
	var args []any
	if filter.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.TargetSub != "" {
		conds = append(conds, "target LIKE ?")
		args = append(args, "%"+filter.TargetSub+"%")
	}

	query := runSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its events cascade.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestStressRun returns an agent's most recent terminal stress run.
func (s *Store) LatestStressRun(ctx context.Context, agentID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+`
		WHERE agent_id = ? AND kind = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, agentID, string(RunKindStress), string(RunCompleted), string(RunFailed))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no stress runs for agent %s: %w", agentID, ErrNotFound)
	}
	return run, err
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var chaos, kind, status string
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&run.ID, &run.AgentID, &kind, &run.Target, &chaos, &status,
		&run.Counters.TotalCalls, &run.Counters.TotalErrors,
		&run.Counters.StressPassed, &run.Counters.StressGraceful,
		&run.Counters.StressCrashed, &run.Counters.StressScore,
		&run.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	run.Kind = RunKind(kind)
	run.Status = RunStatus(status)
	if chaos != "" {
		run.ChaosConfig = json.RawMessage(chaos)
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}
