package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreforge/agentd/internal/config"
	"github.com/coreforge/agentd/internal/hub"
	"github.com/coreforge/agentd/internal/registry"
	"github.com/coreforge/agentd/internal/tasks"
)

// Application is the explicit dependency-injection root (spec §9): every
// component is constructed here and threaded through by value/reference,
// replacing the source's global manager singletons.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *registry.Registry
	Store    tasks.Store
	Scheduler *tasks.Scheduler
	Hub      *hub.Hub
	httpSrv  *http.Server
}

// BuildApplication loads cfg's dependents and wires every component. It does
// not start the scheduler or listen for HTTP connections; call Start for that.
func BuildApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	reg, err := registry.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	store, err := openTaskStore(cfg.Scheduler)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	runner := tasks.AgentRunnerFunc(func(ctx context.Context, agentName, prompt, sessionID string) (tasks.Result, error) {
		resp, err := reg.Run(ctx, agentName, prompt, sessionID)
		if err != nil {
			return tasks.Result{}, err
		}
		return tasks.Result{Text: resp.Text}, nil
	})

	sched := tasks.NewScheduler(store, runner, tasks.SchedulerConfig{Logger: logger})

	h := hub.New(reg, cfg.Hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", hub.ChatCompletionsHandler(reg))
	mux.HandleFunc("/sse/tools/call", hub.ToolCallStreamHandler(reg.Router()))
	mux.HandleFunc("/v1/tasks", hub.TasksHandler(sched))
	mux.HandleFunc("/v1/tasks/", hub.TasksHandler(sched))
	mux.HandleFunc("/ws/session", h.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		Store:     store,
		Scheduler: sched,
		Hub:       h,
		httpSrv: &http.Server{
			Addr:              cfg.Hub.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// openTaskStore selects the Task Store back-end from SchedulerConfig.DatabaseDSN:
// an empty DSN opens an in-memory MemStore, a `postgres://`/`postgresql://` DSN
// opens a PostgresStore, and anything else is treated as a SQLite file path
// (spec §4.11 is back-end-agnostic by design).
func openTaskStore(cfg config.SchedulerConfig) (tasks.Store, error) {
	dsn := cfg.DatabaseDSN
	if dsn == "" {
		return tasks.NewMemStore(), nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return tasks.NewPostgresStore(dsn, tasks.DefaultPostgresConfig())
	}
	return tasks.OpenSQLiteStore(dsn)
}

// Start arms the scheduler (performing crash recovery) then begins serving
// HTTP. It blocks until ctx is cancelled.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down every hub session, then the HTTP server (bounded by ctx),
// then the scheduler, then closes the registry and the task store.
func (a *Application) Stop(ctx context.Context) error {
	a.Hub.Shutdown()
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.Logger.Warn("http server shutdown", "error", err)
	}
	if err := a.Scheduler.Stop(ctx); err != nil {
		a.Logger.Warn("scheduler shutdown", "error", err)
	}
	if err := a.Registry.Close(); err != nil {
		a.Logger.Warn("registry close", "error", err)
	}
	return a.Store.Close()
}
