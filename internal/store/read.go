package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

const historyColumns = `instance_id, seq, definition_key, activity_id, occurrence_id, kind, type, at`

// ReadHistory returns every history event of one instance.
// Results are ordered deterministically: ORDER BY seq ASC, occurrence_id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the instance has no history.
func (s *Store) ReadHistory(ctx context.Context, instanceID string) ([]ir.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM history
		WHERE instance_id = ?
		ORDER BY seq ASC, occurrence_id COLLATE BINARY ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanHistoryRows(rows)
}

// ReadAllHistory returns the history of every instance.
// Ordered by seq, then instance_id for events written by separate engines.
func (s *Store) ReadAllHistory(ctx context.Context) ([]ir.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM history
		ORDER BY seq ASC, instance_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanHistoryRows(rows)
}

// CountActivity counts history events of type typ for activityID.
// An empty instanceID counts across all instances.
func (s *Store) CountActivity(ctx context.Context, instanceID, activityID string, typ ir.HistoryEventType) (int, error) {
	query := `SELECT COUNT(*) FROM history WHERE activity_id = ? AND type = ?`
	args := []any{activityID, string(typ)}
	if instanceID != "" {
		query += ` AND instance_id = ?`
		args = append(args, instanceID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activity %s: %w", activityID, err)
	}
	return n, nil
}

// Instances returns the ids of every instance with history, in the order
// their first event was written.
func (s *Store) Instances(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id
		FROM history
		GROUP BY instance_id
		ORDER BY MIN(seq) ASC, instance_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}
	return ids, nil
}

// scanStrings reads a single text column and closes rows.
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRun retrieves a run summary by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, outcome, steps, started_at, ended_at, digest
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns every run summary ordered by id.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, outcome, steps, started_at, ended_at, digest
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadTrace returns the trace of a run in recorded order.
// Returns an empty slice (not nil) for an unknown run.
func (s *Store) ReadTrace(ctx context.Context, runID string) ([]ir.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, at, type, instance_id, activity_id, kind, detail
		FROM trace_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	events := []ir.TraceEvent{}
	for rows.Next() {
		var (
			ev         ir.TraceEvent
			at, typ, k string
		)
		if err := rows.Scan(&ev.Step, &at, &typ, &ev.InstanceID, &ev.ActivityID, &k, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		ev.Type = ir.TraceType(typ)
		ev.Kind = ir.Kind(k)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return events, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanHistoryRows(rows *sql.Rows) ([]ir.HistoryEvent, error) {
	defer rows.Close()

	events := []ir.HistoryEvent{}
	for rows.Next() {
		ev, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

func scanHistory(row scanner) (ir.HistoryEvent, error) {
	var (
		ev        ir.HistoryEvent
		kind, typ string
		at        string
	)
	if err := row.Scan(&ev.InstanceID, &ev.Seq, &ev.DefinitionKey, &ev.ActivityID,
		&ev.OccurrenceID, &kind, &typ, &at); err != nil {
		return ir.HistoryEvent{}, fmt.Errorf("scan history: %w", err)
	}
	t, err := parseTime(at)
	if err != nil {
		return ir.HistoryEvent{}, err
	}
	ev.Kind = ir.Kind(kind)
	ev.Type = ir.HistoryEventType(typ)
	ev.At = t
	return ev, nil
}

func scanRun(row scanner) (Run, error) {
	var (
		run            Run
		started, ended string
	)
	if err := row.Scan(&run.ID, &run.Name, &run.Outcome, &run.Steps, &started, &ended, &run.Digest); err != nil {
		return Run{}, err
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.EndedAt, err = parseTime(ended); err != nil {
		return Run{}, err
	}
	return run, nil
}
