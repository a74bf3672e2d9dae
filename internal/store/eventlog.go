package store

import (
	"context"
	"fmt"
	"time"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. The write-intent noop forces immediate lock acquisition so
// concurrent appenders cannot interleave sequence reads and writes.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone starts a deferred transaction; an
	// immediate-mode write forces the lock.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, execution_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.WorkflowID, nullStr(event.ExecutionID), nullStr(event.NodeID),
		event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// ReplayNodeStates replays all events for an execution and returns the
// reconstructed node states. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayNodeStates(ctx context.Context, executionID string) (map[string]*schema.NodeState, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*schema.NodeState), nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}

	states := make(map[string]*schema.NodeState)

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &schema.NodeState{
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			states[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeStart:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeEnd:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts

		case schema.EventNodeRetry:
			ns.Status = schema.NodeStatusRunning
			ns.RetryCount++

		case schema.EventWorkflowError:
			ns.Status = schema.NodeStatusFailed
		}
	}

	return states, nil
}
