package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/agentd/internal/agenterr"
)

// SchedulerConfig configures the Scheduler (C12).
type SchedulerConfig struct {
	// ShutdownGrace bounds how long Stop waits for in-flight executions
	// before cancelling them. Default 30s per spec §5.
	ShutdownGrace time.Duration
	Logger        *slog.Logger
	Clock         clock
}

// Scheduler arms cron/interval/once triggers for every enabled task loaded
// from the Store, runs at most one execution per task concurrently, and
// performs crash recovery on Start.
type Scheduler struct {
	store  Store
	runner AgentRunner
	logger *slog.Logger
	clock  clock
	grace  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler builds a Scheduler over store, running triggered tasks
// through runner.
func NewScheduler(store Store, runner AgentRunner, cfg SchedulerConfig) *Scheduler {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		logger:  cfg.Logger.With("component", "scheduler"),
		clock:   cfg.Clock,
		grace:   cfg.ShutdownGrace,
		timers:  make(map[string]*time.Timer),
		running: make(map[string]context.CancelFunc),
	}
}

// Start performs crash recovery, then loads every task and arms a trigger
// for each one that is Armed (spec §4.12, P5).
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverCrashedTasks(ctx); err != nil {
		return err
	}

	loaded, err := s.store.ListTasks(ctx, ListTasksFilter{})
	if err != nil {
		return agenterr.Wrap(agenterr.StoreError, "scheduler start: list tasks", err)
	}

	for _, t := range loaded {
		if t.Armed() {
			s.armTrigger(ctx, t)
		}
	}
	s.logger.Info("scheduler started", "task_count", len(loaded))
	return nil
}

// recoverCrashedTasks implements §4.12's crash recovery: any task whose
// persisted LastStatus is still StatusRunning at load time gets a
// synthetic "failed" execution record with error "crash-recovered" and its
// counters advanced, so a crashed run is neither double-counted nor
// silently swallowed (P5).
func (s *Scheduler) recoverCrashedTasks(ctx context.Context) error {
	crashed, err := s.store.TasksRunningAtLoad(ctx)
	if err != nil {
		return agenterr.Wrap(agenterr.StoreError, "scheduler start: list running tasks", err)
	}
	now := s.clock.Now()
	for _, t := range crashed {
		rec := &TaskExecutionRecord{
			ID:           uuid.NewString(),
			TaskID:       t.ID,
			StartedAt:    now,
			FinishedAt:   &now,
			Status:       ExecFailed,
			ErrorMessage: "crash-recovered",
		}
		if err := s.store.AppendExecution(ctx, rec); err != nil {
			return agenterr.Wrap(agenterr.StoreError, "record crash recovery", err)
		}
		t.LastStatus = StatusFailed
		t.FailedRuns++
		t.TotalRuns++
		t.LastRunAt = &now
		if err := s.store.UpsertTask(ctx, t); err != nil {
			return agenterr.Wrap(agenterr.StoreError, "update crash-recovered task", err)
		}
		s.logger.Warn("recovered crashed task", "task_id", t.ID, "task_name", t.Name)
	}
	return nil
}

// armTrigger computes the task's next fire instant and schedules a timer
// for it. A task with no future fire (an exhausted Once, or a Cron with no
// future match) is loaded but left unarmed, per spec §8's boundary case.
// Called both when a task is first loaded/armed (Start, UpsertTask,
// SetEnabled) and from fire itself for every repeating trigger, so the
// schedule's cadence keeps ticking on its own terms rather than on the
// completion time of whatever execution the previous tick started.
func (s *Scheduler) armTrigger(ctx context.Context, t *ScheduledTask) {
	now := s.clock.Now()
	next, err := t.Schedule.NextFire(now)
	if err != nil {
		s.logger.Error("invalid schedule, leaving task unarmed", "task_id", t.ID, "error", err)
		return
	}

	// Once in the past that never succeeded fires immediately (spec §4.12,
	// §8 boundary: "Once in the past, never run: fires immediately").
	if next.IsZero() {
		if t.Schedule.Kind == ScheduleOnce && t.LastStatus != StatusSucceeded {
			s.fire(ctx, t.ID)
		}
		return
	}

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if existing, ok := s.timers[t.ID]; ok {
		existing.Stop()
	}
	s.timers[t.ID] = time.AfterFunc(delay, func() { s.fire(ctx, t.ID) })
}

// fire is the timer callback. It first re-arms the schedule's own next
// tick — independent of whether this trigger goes on to run or coalesce —
// then decides whether a prior execution of the task is still in flight.
// Re-arming before (rather than after) the run is what lets a cron/interval
// cadence keep ticking while a long execution is in progress: a tick that
// lands mid-run is coalesced (spec §4.12, §8 P4), which requires that tick
// to actually be generated instead of the next trigger being computed from
// this run's completion time.
func (s *Scheduler) fire(ctx context.Context, taskID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if t, err := s.store.GetTask(ctx, taskID); err == nil && t != nil && t.Repeat && t.Armed() {
		s.armTrigger(ctx, t)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, inFlight := s.running[taskID]; inFlight {
		s.mu.Unlock()
		s.coalesce(ctx, taskID)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running[taskID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.execute(runCtx, taskID)
		s.mu.Lock()
		delete(s.running, taskID)
		s.mu.Unlock()
	}()
}

// coalesce drops a redundant trigger while a prior execution of the same
// task is still in flight, appending an explicit note rather than treating
// it as an error (spec §4.12, P4, scenario 3).
func (s *Scheduler) coalesce(ctx context.Context, taskID string) {
	now := s.clock.Now()
	rec := &TaskExecutionRecord{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		StartedAt:  now,
		FinishedAt: &now,
		Status:     ExecCoalesced,
		Note:       "coalesced: previous execution still running",
	}
	if err := s.store.AppendExecution(ctx, rec); err != nil {
		s.logger.Error("failed to record coalesced trigger", "task_id", taskID, "error", err)
	}
}

// execute moves the task to running, invokes the runner, and persists the
// outcome and a new execution record.
func (s *Scheduler) execute(ctx context.Context, taskID string) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil || t == nil {
		s.logger.Error("execute: task vanished", "task_id", taskID, "error", err)
		return
	}

	started := s.clock.Now()
	t.LastStatus = StatusRunning
	t.LastRunAt = &started
	if err := s.store.UpsertTask(ctx, t); err != nil {
		s.logger.Error("execute: persist running state", "task_id", taskID, "error", err)
		return
	}

	result, runErr := s.runner.Run(ctx, t.AgentName, t.Prompt, "")

	finished := s.clock.Now()
	rec := &TaskExecutionRecord{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		StartedAt:  started,
		FinishedAt: &finished,
	}

	switch {
	case ctx.Err() == context.Canceled:
		rec.Status = ExecCancelled
		t.LastStatus = StatusCancelled
	case runErr != nil:
		rec.Status = ExecFailed
		rec.ErrorMessage = runErr.Error()
		t.LastStatus = StatusFailed
		t.FailedRuns++
	default:
		rec.Status = ExecSucceeded
		rec.OutputSummary = result.Text
		t.LastStatus = StatusSucceeded
		t.SuccessfulRuns++
	}
	t.TotalRuns++

	if err := s.store.AppendExecution(ctx, rec); err != nil {
		s.logger.Error("execute: append execution record", "task_id", taskID, "error", err)
	}
	if err := s.store.UpsertTask(ctx, t); err != nil {
		s.logger.Error("execute: persist final state", "task_id", taskID, "error", err)
	}
}

// Stop disarms every pending trigger, waits up to the configured grace
// period for in-flight executions, then cancels any still running.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, timer := range s.timers {
		timer.Stop()
	}
	running := make([]context.CancelFunc, 0, len(s.running))
	for _, cancel := range s.running {
		running = append(running, cancel)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.grace):
		for _, cancel := range running {
			cancel()
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
}

// UpsertTask validates and persists a task definition, arming its trigger
// if the scheduler is running and the task is armed.
func (s *Scheduler) UpsertTask(ctx context.Context, t *ScheduledTask) error {
	if err := t.Schedule.Validate(); err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, "invalid schedule", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock.Now()
	}
	if t.LastStatus == "" {
		t.LastStatus = StatusPending
	}
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return agenterr.Wrap(agenterr.StoreError, "upsert task", err)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && t.Armed() {
		s.armTrigger(ctx, t)
	}
	return nil
}

// DisarmTask stops a task's pending timer without deleting its record,
// used when a task is disabled via the management endpoint.
func (s *Scheduler) DisarmTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

// GetTask, ListTasks, ListExecutions, DeleteTask delegate straight to the
// Store; they exist on Scheduler so an HTTP handler has one dependency
// instead of two.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Scheduler) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*ScheduledTask, error) {
	return s.store.ListTasks(ctx, filter)
}

func (s *Scheduler) ListExecutions(ctx context.Context, taskID string, limit int) ([]*TaskExecutionRecord, error) {
	return s.store.ListExecutions(ctx, taskID, limit)
}

func (s *Scheduler) DeleteTask(ctx context.Context, id string) error {
	s.DisarmTask(id)
	return s.store.DeleteTask(ctx, id)
}

// SetEnabled flips a task's Enabled flag, persists it, and arms or disarms
// its trigger accordingly. Used by `POST /v1/tasks/{id}/enable|disable`.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return agenterr.Wrap(agenterr.StoreError, "get task", err)
	}
	if t == nil {
		return agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf("task %q not found", id))
	}
	t.Enabled = enabled
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return agenterr.Wrap(agenterr.StoreError, "persist enabled flag", err)
	}
	if enabled && t.Armed() {
		s.armTrigger(ctx, t)
	} else {
		s.DisarmTask(id)
	}
	return nil
}
