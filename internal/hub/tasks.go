package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/datetime"
	"github.com/coreforge/agentd/internal/format"
	"github.com/coreforge/agentd/internal/tasks"
)

// TaskScheduler is the subset of the Scheduler (C12) the task management
// HTTP surface depends on.
type TaskScheduler interface {
	GetTask(ctx context.Context, id string) (*tasks.ScheduledTask, error)
	ListTasks(ctx context.Context, filter tasks.ListTasksFilter) ([]*tasks.ScheduledTask, error)
	ListExecutions(ctx context.Context, taskID string, limit int) ([]*tasks.TaskExecutionRecord, error)
	DeleteTask(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

type taskView struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	AgentName       string  `json:"agent_name"`
	ScheduleKind    string  `json:"schedule_kind"`
	ScheduleValue   string  `json:"schedule_value"`
	Repeat          bool    `json:"repeat"`
	Enabled         bool    `json:"enabled"`
	LastStatus      string  `json:"last_status"`
	TotalRuns       int     `json:"total_runs"`
	SuccessfulRuns  int     `json:"successful_runs"`
	FailedRuns      int     `json:"failed_runs"`
	LastRunAt       *string `json:"last_run_at,omitempty"`
	LastRunRelative *string `json:"last_run_relative,omitempty"`
}

func toTaskView(t *tasks.ScheduledTask) taskView {
	v := taskView{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		AgentName:      t.AgentName,
		ScheduleKind:   string(t.Schedule.Kind),
		ScheduleValue:  t.Schedule.ScheduleValue(),
		Repeat:         t.Repeat,
		Enabled:        t.Enabled,
		LastStatus:     string(t.LastStatus),
		TotalRuns:      t.TotalRuns,
		SuccessfulRuns: t.SuccessfulRuns,
		FailedRuns:     t.FailedRuns,
	}
	if t.LastRunAt != nil {
		s := t.LastRunAt.Format("2006-01-02T15:04:05Z07:00")
		v.LastRunAt = &s
		relative := datetime.FormatRelativeTime(*t.LastRunAt, time.Now())
		v.LastRunRelative = &relative
	}
	return v
}

// executionView adds a human-readable duration to a raw execution record for
// the `GET /v1/tasks/{id}` response.
type executionView struct {
	*tasks.TaskExecutionRecord
	DurationText string `json:"duration,omitempty"`
}

func toExecutionViews(records []*tasks.TaskExecutionRecord) []executionView {
	views := make([]executionView, 0, len(records))
	for _, rec := range records {
		v := executionView{TaskExecutionRecord: rec}
		if rec.FinishedAt != nil {
			v.DurationText = format.FormatDurationMsInt(rec.FinishedAt.Sub(rec.StartedAt).Milliseconds())
		}
		views = append(views, v)
	}
	return views
}

// TasksHandler routes the `/v1/tasks` family of endpoints (spec §6):
// `GET /v1/tasks`, `GET /v1/tasks/{id}`, `POST /v1/tasks/{id}/enable`,
// `POST /v1/tasks/{id}/disable`, `DELETE /v1/tasks/{id}`.
func TasksHandler(sched TaskScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/tasks")
		path = strings.Trim(path, "/")

		if path == "" {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			listTasks(w, r, sched)
			return
		}

		segments := strings.Split(path, "/")
		id := segments[0]

		switch {
		case len(segments) == 1 && r.Method == http.MethodGet:
			getTask(w, r, sched, id)
		case len(segments) == 1 && r.Method == http.MethodDelete:
			deleteTask(w, r, sched, id)
		case len(segments) == 2 && segments[1] == "enable" && r.Method == http.MethodPost:
			setEnabled(w, r, sched, id, true)
		case len(segments) == 2 && segments[1] == "disable" && r.Method == http.MethodPost:
			setEnabled(w, r, sched, id, false)
		default:
			http.NotFound(w, r)
		}
	}
}

func listTasks(w http.ResponseWriter, r *http.Request, sched TaskScheduler) {
	var filter tasks.ListTasksFilter
	if agent := r.URL.Query().Get("agent_name"); agent != "" {
		filter.AgentName = agent
	}
	list, err := sched.ListTasks(r.Context(), filter)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	views := make([]taskView, 0, len(list))
	for _, t := range list {
		views = append(views, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func getTask(w http.ResponseWriter, r *http.Request, sched TaskScheduler, id string) {
	t, err := sched.GetTask(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if t == nil {
		http.NotFound(w, r)
		return
	}
	execs, err := sched.ListExecutions(r.Context(), id, 20)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":       toTaskView(t),
		"executions": toExecutionViews(execs),
	})
}

func deleteTask(w http.ResponseWriter, r *http.Request, sched TaskScheduler, id string) {
	if err := sched.DeleteTask(r.Context(), id); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setEnabled(w http.ResponseWriter, r *http.Request, sched TaskScheduler, id string, enabled bool) {
	if err := sched.SetEnabled(r.Context(), id, enabled); err != nil {
		writeTaskError(w, err)
		return
	}
	t, err := sched.GetTask(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

func writeTaskError(w http.ResponseWriter, err error) {
	kind := agenterr.KindOrDefault(err, agenterr.StoreError)
	status := http.StatusInternalServerError
	if kind == agenterr.ConfigInvalid {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
