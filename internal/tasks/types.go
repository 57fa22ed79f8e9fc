// Package tasks implements the Task Store (C11) and Scheduler (C12): durable
// records of scheduled agent invocations, triggered by cron expression,
// fixed interval, or a single instant, with exactly-one execution in flight
// per task and crash-safe resume on restart.
package tasks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coreforge/agentd/internal/datetime"
)

// cronParser accepts the standard 5-field cron grammar used throughout the
// spec's examples ("0 9 * * *").
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleKind discriminates the tagged union a ScheduledTask's trigger is
// built from.
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
)

// Schedule is the tagged union `Cron(expr) | Interval(duration) | Once(instant)`.
// Only the field matching Kind is meaningful.
type Schedule struct {
	Kind     ScheduleKind
	Cron     string
	Interval time.Duration
	Once     time.Time
}

// Validate rejects schedules the scheduler could never arm: a malformed
// cron expression, or a non-positive interval (spec §8 boundary: "Interval
// of 0s: rejected by validation").
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleCron:
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
		}
	case ScheduleInterval:
		if s.Interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", s.Interval)
		}
	case ScheduleOnce:
		if s.Once.IsZero() {
			return fmt.Errorf("once schedule requires a non-zero instant")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextFire computes the next instant the schedule should trigger strictly
// after `after`. For Once it returns the instant itself if it is still in
// the future, or the zero Time if it has already passed (callers decide
// whether a past Once should still fire immediately, per §4.12). For Cron
// it returns the zero Time (no error) when the expression has no future
// match within the cron library's own bound.
func (s Schedule) NextFire(after time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleCron:
		sched, err := cronParser.Parse(s.Cron)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(after), nil
	case ScheduleInterval:
		if s.Interval <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive")
		}
		return after.Add(s.Interval), nil
	case ScheduleOnce:
		if s.Once.After(after) {
			return s.Once, nil
		}
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// ScheduleValue formats the schedule the way §6's persisted layout
// declares: the cron expression verbatim, integer seconds for an interval,
// and RFC 3339 for a fixed instant.
func (s Schedule) ScheduleValue() string {
	switch s.Kind {
	case ScheduleCron:
		return s.Cron
	case ScheduleInterval:
		return strconv.FormatInt(int64(s.Interval/time.Second), 10)
	case ScheduleOnce:
		return s.Once.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// ParseSchedule is ScheduleValue's inverse: it rebuilds a Schedule from the
// persisted (kind, value) pair. Round-tripping parse∘format is spec
// property P7.
func ParseSchedule(kind ScheduleKind, value string) (Schedule, error) {
	switch kind {
	case ScheduleCron:
		return Schedule{Kind: ScheduleCron, Cron: value}, nil
	case ScheduleInterval:
		secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return Schedule{}, fmt.Errorf("parse interval seconds %q: %w", value, err)
		}
		return Schedule{Kind: ScheduleInterval, Interval: time.Duration(secs) * time.Second}, nil
	case ScheduleOnce:
		// Accept RFC 3339 as well as the looser shapes (unix seconds/ms,
		// bare date) callers of the task-management API tend to send.
		normalized := datetime.NormalizeTimestamp(strings.TrimSpace(value))
		if normalized == nil {
			return Schedule{}, fmt.Errorf("parse once instant %q", value)
		}
		return Schedule{Kind: ScheduleOnce, Once: time.UnixMilli(normalized.TimestampMs).UTC()}, nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule kind %q", kind)
	}
}

// TaskStatus is a task row's `last_status`, per spec §3.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// ScheduledTask is the durable record described in spec §3/§6.
type ScheduledTask struct {
	ID          string
	Name        string
	Description string
	AgentName   string
	Prompt      string
	Schedule    Schedule
	Repeat      bool
	Enabled     bool

	CreatedAt  time.Time
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	LastStatus TaskStatus

	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
}

// Armed reports whether the scheduler should compute and hold a next-fire
// instant for this task: enabled, and — per the invariant in §3 — not a
// completed non-repeating task.
func (t *ScheduledTask) Armed() bool {
	if !t.Enabled {
		return false
	}
	if !t.Repeat && (t.LastStatus == StatusSucceeded || t.LastStatus == StatusCancelled) {
		return false
	}
	return true
}

// ExecutionStatus is one TaskExecutionRecord's outcome.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecSucceeded ExecutionStatus = "succeeded"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecCoalesced ExecutionStatus = "coalesced"
)

// TaskExecutionRecord is one append-only attempt, per spec §3/§6.
type TaskExecutionRecord struct {
	ID            string
	TaskID        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Status        ExecutionStatus
	ErrorMessage  string
	OutputSummary string
	Note          string
}

// ListTasksFilter narrows ListTasks. A zero value lists every task.
type ListTasksFilter struct {
	AgentName string
	Enabled   *bool
}
