package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Definitions ---

func (s *LibSQLStore) SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, name, version, status, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, version=excluded.version, status=excluded.status,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		def.ID, def.Name, def.Version, string(def.Status), string(raw),
		timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM definitions WHERE id = ?`, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("definition", id)
	}
	if err != nil {
		return nil, err
	}
	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(raw), def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, nil
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.NamePrefix != "" {
		where = append(where, "name LIKE ?")
		args = append(args, filter.NamePrefix+"%")
	}

	query := "SELECT definition FROM definitions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		def := &schema.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(raw), def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *schema.Execution) error {
	snapshot, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, snapshot, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, snapshot=excluded.snapshot,
		   completed_at=excluded.completed_at, updated_at=CURRENT_TIMESTAMP`,
		exec.ID, exec.WorkflowID, string(exec.Status), string(snapshot),
		timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM executions WHERE id = ?`, id,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	exec := &schema.Execution{}
	if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT snapshot FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		exec := &schema.Execution{}
		if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// DeleteExecutionsBefore removes terminal executions that completed before the
// cutoff. Running executions are never reaped.
func (s *LibSQLStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Events ---

// AppendEvent delegates to the event log wrapper; kept on the Store interface
// so callers can hold a single dependency.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return NewEventLog(s).AppendEvent(ctx, event)
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, execution_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, execution_id, node_id, event_type, payload, timestamp, sequence
	 FROM events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY timestamp ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var executionID, nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &executionID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.ExecutionID = executionID.String
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, nullRaw(job.Inputs),
		boolToInt(job.Enabled), nullTime(job.LastRunAt), nullTime(job.NextRunAt),
		nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var inputs, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &inputs, &enabled, &lastRun, &nextRun, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, err
	}
	job.Inputs = rawOrNil(inputs)
	job.Enabled = enabled != 0
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := `SELECT id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var inputs, lastStatus sql.NullString
		var lastRun, nextRun sql.NullTime
		var enabled int
		if err := rows.Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &inputs, &enabled, &lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Inputs = rawOrNil(inputs)
		job.Enabled = enabled != 0
		job.LastRunStatus = lastStatus.String
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			job.NextRunAt = &nextRun.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
