package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded reference Store back-end: one file, one
// connection, schema migrations applied on open. Suited to a single
// scheduler process (spec §4.11).
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	agent_name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_kind TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	repeat INTEGER NOT NULL,
	enabled INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	last_run_at TEXT,
	next_run_at TEXT,
	last_status TEXT NOT NULL,
	total_runs INTEGER NOT NULL DEFAULT 0,
	successful_runs INTEGER NOT NULL DEFAULT 0,
	failed_runs INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	output_summary TEXT,
	note TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, started_at);
`

// OpenSQLiteStore opens (creating if necessary) a single-file embedded
// task store at path and applies its schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // embedded single-file db: one writer
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertTask(ctx context.Context, t *ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, agent_name, prompt, schedule_kind,
			schedule_value, repeat, enabled, created_at, last_run_at, next_run_at,
			last_status, total_runs, successful_runs, failed_runs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			agent_name=excluded.agent_name, prompt=excluded.prompt,
			schedule_kind=excluded.schedule_kind, schedule_value=excluded.schedule_value,
			repeat=excluded.repeat, enabled=excluded.enabled,
			last_run_at=excluded.last_run_at, next_run_at=excluded.next_run_at,
			last_status=excluded.last_status, total_runs=excluded.total_runs,
			successful_runs=excluded.successful_runs, failed_runs=excluded.failed_runs`,
		t.ID, t.Name, t.Description, t.AgentName, t.Prompt, string(t.Schedule.Kind),
		t.Schedule.ScheduleValue(), t.Repeat, t.Enabled, formatTime(t.CreatedAt),
		formatTimePtr(t.LastRunAt), formatTimePtr(t.NextRunAt), string(t.LastStatus),
		t.TotalRuns, t.SuccessfulRuns, t.FailedRuns)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, agent_name, prompt,
		schedule_kind, schedule_value, repeat, enabled, created_at, last_run_at,
		next_run_at, last_status, total_runs, successful_runs, failed_runs
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*ScheduledTask, error) {
	query := `SELECT id, name, description, agent_name, prompt, schedule_kind,
		schedule_value, repeat, enabled, created_at, last_run_at, next_run_at,
		last_status, total_runs, successful_runs, failed_runs FROM tasks WHERE 1=1`
	var args []any
	if filter.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, filter.AgentName)
	}
	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendExecution(ctx context.Context, rec *TaskExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions (id, task_id, started_at,
		finished_at, status, error_message, output_summary, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskID, formatTime(rec.StartedAt), formatTimePtr(rec.FinishedAt),
		string(rec.Status), rec.ErrorMessage, rec.OutputSummary, rec.Note)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, taskID string, limit int) ([]*TaskExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, started_at, finished_at,
		status, error_message, output_summary, note FROM executions
		WHERE task_id = ? ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*TaskExecutionRecord
	for rows.Next() {
		var rec TaskExecutionRecord
		var started string
		var finished, errMsg, summary, note *string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &started, &finished, &rec.Status,
			&errMsg, &summary, &note); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTimePtr(finished)
		rec.ErrorMessage = derefString(errMsg)
		rec.OutputSummary = derefString(summary)
		rec.Note = derefString(note)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TasksRunningAtLoad(ctx context.Context) ([]*ScheduledTask, error) {
	all, err := s.ListTasks(ctx, ListTasksFilter{})
	if err != nil {
		return nil, err
	}
	var running []*ScheduledTask
	for _, t := range all {
		if t.LastStatus == StatusRunning {
			running = append(running, t)
		}
	}
	return running, nil
}

// scanFunc matches both *sql.Row.Scan and *sql.Rows.Scan.
type scanFunc func(dest ...any) error

func scanTask(scan scanFunc) (*ScheduledTask, error) {
	var t ScheduledTask
	var scheduleKind, scheduleValue, created string
	var lastRun, nextRun *string
	if err := scan(&t.ID, &t.Name, &t.Description, &t.AgentName, &t.Prompt,
		&scheduleKind, &scheduleValue, &t.Repeat, &t.Enabled, &created,
		&lastRun, &nextRun, &t.LastStatus, &t.TotalRuns, &t.SuccessfulRuns,
		&t.FailedRuns); err != nil {
		return nil, err
	}
	sched, err := ParseSchedule(ScheduleKind(scheduleKind), scheduleValue)
	if err != nil {
		return nil, fmt.Errorf("parse schedule for task %s: %w", t.ID, err)
	}
	t.Schedule = sched
	t.CreatedAt = parseTime(created)
	t.LastRunAt = parseTimePtr(lastRun)
	t.NextRunAt = parseTimePtr(nextRun)
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
