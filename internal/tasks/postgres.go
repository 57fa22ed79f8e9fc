package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig configures a pooled client/server connection.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	agent_name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_kind TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	repeat BOOLEAN NOT NULL,
	enabled BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_run_at TIMESTAMPTZ,
	next_run_at TIMESTAMPTZ,
	last_status TEXT NOT NULL,
	total_runs INTEGER NOT NULL DEFAULT 0,
	successful_runs INTEGER NOT NULL DEFAULT 0,
	failed_runs INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT,
	output_summary TEXT,
	note TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, started_at);
`

// PostgresStore is the client/server reference Store back-end: pooled
// connections, the same schema as SQLiteStore, and an
// UpsertTaskAndAppendExecution method that commits a task's counters and a
// new execution row in one transaction (spec §4.11).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn, configures the pool, and applies the schema.
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) UpsertTask(ctx context.Context, t *ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, agent_name, prompt, schedule_kind,
			schedule_value, repeat, enabled, created_at, last_run_at, next_run_at,
			last_status, total_runs, successful_runs, failed_runs)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, description=EXCLUDED.description,
			agent_name=EXCLUDED.agent_name, prompt=EXCLUDED.prompt,
			schedule_kind=EXCLUDED.schedule_kind, schedule_value=EXCLUDED.schedule_value,
			repeat=EXCLUDED.repeat, enabled=EXCLUDED.enabled,
			last_run_at=EXCLUDED.last_run_at, next_run_at=EXCLUDED.next_run_at,
			last_status=EXCLUDED.last_status, total_runs=EXCLUDED.total_runs,
			successful_runs=EXCLUDED.successful_runs, failed_runs=EXCLUDED.failed_runs`,
		t.ID, t.Name, t.Description, t.AgentName, t.Prompt, string(t.Schedule.Kind),
		t.Schedule.ScheduleValue(), t.Repeat, t.Enabled, t.CreatedAt.UTC(),
		t.LastRunAt, t.NextRunAt, string(t.LastStatus), t.TotalRuns, t.SuccessfulRuns, t.FailedRuns)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, agent_name, prompt,
		schedule_kind, schedule_value, repeat, enabled, created_at, last_run_at,
		next_run_at, last_status, total_runs, successful_runs, failed_runs
		FROM tasks WHERE id = $1`, id)
	t, err := scanTaskPG(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*ScheduledTask, error) {
	query := `SELECT id, name, description, agent_name, prompt, schedule_kind,
		schedule_value, repeat, enabled, created_at, last_run_at, next_run_at,
		last_status, total_runs, successful_runs, failed_runs FROM tasks WHERE TRUE`
	var args []any
	if filter.AgentName != "" {
		args = append(args, filter.AgentName)
		query += fmt.Sprintf(" AND agent_name = $%d", len(args))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		query += fmt.Sprintf(" AND enabled = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTaskPG(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendExecution(ctx context.Context, rec *TaskExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions (id, task_id, started_at,
		finished_at, status, error_message, output_summary, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.TaskID, rec.StartedAt.UTC(), rec.FinishedAt, string(rec.Status),
		rec.ErrorMessage, rec.OutputSummary, rec.Note)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

// UpsertTaskAndAppendExecution commits a task's updated counters and its
// new execution row in a single transaction, per spec §4.11's
// transactional upsert_task+append_execution requirement.
func (s *PostgresStore) UpsertTaskAndAppendExecution(ctx context.Context, t *ScheduledTask, rec *TaskExecutionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, agent_name, prompt, schedule_kind,
			schedule_value, repeat, enabled, created_at, last_run_at, next_run_at,
			last_status, total_runs, successful_runs, failed_runs)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			last_run_at=EXCLUDED.last_run_at, next_run_at=EXCLUDED.next_run_at,
			last_status=EXCLUDED.last_status, total_runs=EXCLUDED.total_runs,
			successful_runs=EXCLUDED.successful_runs, failed_runs=EXCLUDED.failed_runs`,
		t.ID, t.Name, t.Description, t.AgentName, t.Prompt, string(t.Schedule.Kind),
		t.Schedule.ScheduleValue(), t.Repeat, t.Enabled, t.CreatedAt.UTC(),
		t.LastRunAt, t.NextRunAt, string(t.LastStatus), t.TotalRuns, t.SuccessfulRuns, t.FailedRuns); err != nil {
		return fmt.Errorf("upsert task in transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO executions (id, task_id, started_at,
		finished_at, status, error_message, output_summary, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.TaskID, rec.StartedAt.UTC(), rec.FinishedAt, string(rec.Status),
		rec.ErrorMessage, rec.OutputSummary, rec.Note); err != nil {
		return fmt.Errorf("append execution in transaction: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) ListExecutions(ctx context.Context, taskID string, limit int) ([]*TaskExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, started_at, finished_at,
		status, error_message, output_summary, note FROM executions
		WHERE task_id = $1 ORDER BY started_at DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*TaskExecutionRecord
	for rows.Next() {
		var rec TaskExecutionRecord
		var errMsg, summary, note sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.StartedAt, &rec.FinishedAt,
			&rec.Status, &errMsg, &summary, &note); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.ErrorMessage = errMsg.String
		rec.OutputSummary = summary.String
		rec.Note = note.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TasksRunningAtLoad(ctx context.Context) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, agent_name, prompt,
		schedule_kind, schedule_value, repeat, enabled, created_at, last_run_at,
		next_run_at, last_status, total_runs, successful_runs, failed_runs
		FROM tasks WHERE last_status = $1`, string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("tasks running at load: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTaskPG(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTaskPG(scan scanFunc) (*ScheduledTask, error) {
	var t ScheduledTask
	var scheduleKind, scheduleValue string
	if err := scan(&t.ID, &t.Name, &t.Description, &t.AgentName, &t.Prompt,
		&scheduleKind, &scheduleValue, &t.Repeat, &t.Enabled, &t.CreatedAt,
		&t.LastRunAt, &t.NextRunAt, &t.LastStatus, &t.TotalRuns, &t.SuccessfulRuns,
		&t.FailedRuns); err != nil {
		return nil, err
	}
	sched, err := ParseSchedule(ScheduleKind(scheduleKind), scheduleValue)
	if err != nil {
		return nil, fmt.Errorf("parse schedule for task %s: %w", t.ID, err)
	}
	t.Schedule = sched
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
