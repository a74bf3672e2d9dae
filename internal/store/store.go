package store

import (
	"context"
	"time"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Executions (full snapshots, queryable by workflow and status)
	SaveExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Event sourcing (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Scheduled jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
