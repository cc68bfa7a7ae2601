package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// WriteHistory inserts one history event.
// Uses ON CONFLICT DO NOTHING for idempotency - rewriting the same
// (instance_id, seq) is silently ignored.
func (s *Store) WriteHistory(ctx context.Context, ev ir.HistoryEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history
		(instance_id, seq, definition_key, activity_id, occurrence_id, kind, type, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.InstanceID,
		ev.Seq,
		ev.DefinitionKey,
		ev.ActivityID,
		ev.OccurrenceID,
		string(ev.Kind),
		string(ev.Type),
		formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Run is the summary row of one driver run.
type Run struct {
	ID        string
	Name      string
	Outcome   string
	Steps     int
	StartedAt time.Time
	EndedAt   time.Time
	Digest    string
}

// WriteRun inserts a run summary.
// Writing an existing run id is silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, outcome, steps, started_at, ended_at, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Name,
		run.Outcome,
		run.Steps,
		formatTime(run.StartedAt),
		formatTime(run.EndedAt),
		run.Digest,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteTrace stores the ordered trace of a run in one transaction.
// The run must already exist (foreign key constraint). Position in the
// slice becomes the seq column.
func (s *Store) WriteTrace(ctx context.Context, runID string, events []ir.TraceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write trace: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_events
		(run_id, seq, step, at, type, instance_id, activity_id, kind, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write trace: prepare: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		_, err := stmt.ExecContext(ctx,
			runID,
			i,
			ev.Step,
			formatTime(ev.At),
			string(ev.Type),
			ev.InstanceID,
			ev.ActivityID,
			string(ev.Kind),
			ev.Detail,
		)
		if err != nil {
			return fmt.Errorf("write trace event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write trace: commit: %w", err)
	}
	return nil
}
