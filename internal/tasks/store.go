package tasks

import (
	"context"
	"time"
)

// Store is the pluggable Task Store back-end (C11). Implementations exist
// for an embedded single-file database and a pooled client/server database;
// both expose exactly this operation set.
type Store interface {
	UpsertTask(ctx context.Context, task *ScheduledTask) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	ListTasks(ctx context.Context, filter ListTasksFilter) ([]*ScheduledTask, error)
	DeleteTask(ctx context.Context, id string) error

	AppendExecution(ctx context.Context, rec *TaskExecutionRecord) error
	ListExecutions(ctx context.Context, taskID string, limit int) ([]*TaskExecutionRecord, error)

	// TasksRunningAtLoad returns every task whose persisted LastStatus is
	// StatusRunning — used by the Scheduler on Start to perform crash
	// recovery (spec §4.12, P5).
	TasksRunningAtLoad(ctx context.Context) ([]*ScheduledTask, error)

	Close() error
}

// clock abstracts time.Now for deterministic scheduler tests.
type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
