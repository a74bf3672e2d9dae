package store

import (
	"encoding/json"
	"time"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// Event is an immutable entry in the event sourcing log. Sequence is
// monotonically increasing per execution.
type Event struct {
	ID          int64           `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered workflow execution.
type ScheduledJob struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// DefinitionFilter specifies criteria for listing workflow definitions.
type DefinitionFilter struct {
	Status     *schema.DefinitionStatus `json:"status,omitempty"`
	NamePrefix string                   `json:"name_prefix,omitempty"`
	Limit      int                      `json:"limit,omitempty"`
	Offset     int                      `json:"offset,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	WorkflowID  string     `json:"workflow_id,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
	NodeID      string     `json:"node_id,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
