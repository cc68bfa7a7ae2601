package store

import (
	"context"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// InstanceState is the recovery view of one instance, rebuilt from its
// history.
type InstanceState struct {
	InstanceID    string
	DefinitionKey string
	Events        []ir.HistoryEvent
	LastSeq       int64
	Open          []ir.HistoryEvent // started occurrences with no finish or cancel, in seq order
	Ended         bool              // an end activity finished
	IsComplete    bool              // ended with nothing left open
}

// GetInstanceState reads the history of an instance and works out which
// occurrences are still open.
func (s *Store) GetInstanceState(ctx context.Context, instanceID string) (InstanceState, error) {
	state := InstanceState{InstanceID: instanceID, Open: []ir.HistoryEvent{}}

	events, err := s.ReadHistory(ctx, instanceID)
	if err != nil {
		return state, fmt.Errorf("get instance state: %w", err)
	}
	state.Events = events

	type occurrence struct{ activity, id string }
	started := make(map[occurrence]ir.HistoryEvent)
	var order []occurrence
	for _, ev := range events {
		if state.DefinitionKey == "" {
			state.DefinitionKey = ev.DefinitionKey
		}
		if ev.Seq > state.LastSeq {
			state.LastSeq = ev.Seq
		}
		key := occurrence{ev.ActivityID, ev.OccurrenceID}
		switch ev.Type {
		case ir.HistoryStarted:
			started[key] = ev
			order = append(order, key)
		case ir.HistoryFinished, ir.HistoryCanceled:
			delete(started, key)
			if ev.Type == ir.HistoryFinished && ev.Kind == ir.KindEnd {
				state.Ended = true
			}
		}
	}
	for _, key := range order {
		if ev, ok := started[key]; ok {
			state.Open = append(state.Open, ev)
			delete(started, key)
		}
	}

	state.IsComplete = state.Ended && len(state.Open) == 0
	return state, nil
}

// FindIncompleteInstances returns every instance that either has an open
// occurrence or never finished an end activity, ordered by instance id.
func (s *Store) FindIncompleteInstances(ctx context.Context) ([]InstanceState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT instance_id FROM (
			-- started with no matching finish or cancel
			SELECT h.instance_id
			FROM history h
			WHERE h.type = 'started' AND NOT EXISTS (
				SELECT 1 FROM history x
				WHERE x.instance_id = h.instance_id
				  AND x.activity_id = h.activity_id
				  AND x.occurrence_id = h.occurrence_id
				  AND x.type IN ('finished', 'canceled')
			)

			UNION

			-- never reached an end activity
			SELECT instance_id
			FROM history
			GROUP BY instance_id
			HAVING SUM(CASE WHEN kind = 'end' AND type = 'finished' THEN 1 ELSE 0 END) = 0
		)
		ORDER BY instance_id COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("find incomplete instances: %w", err)
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("find incomplete instances: %w", err)
	}

	states := []InstanceState{}
	for _, id := range ids {
		state, err := s.GetInstanceState(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// RunInstances returns the instances a run's trace touched, in order of
// first appearance.
func (s *Store) RunInstances(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id
		FROM trace_events
		WHERE run_id = ? AND instance_id != ''
		GROUP BY instance_id
		ORDER BY MIN(seq) ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("run instances: %w", err)
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("run instances: %w", err)
	}
	return ids, nil
}

// GetLastSeq returns the highest history seq recorded for an instance, or
// 0 when it has none.
func (s *Store) GetLastSeq(ctx context.Context, instanceID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM history WHERE instance_id = ?
	`, instanceID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}
