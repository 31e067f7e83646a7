package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshdrift/meshdrift/internal/api"
	"github.com/meshdrift/meshdrift/internal/buildinfo"
	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/history"
	"github.com/meshdrift/meshdrift/internal/integration"
	"github.com/meshdrift/meshdrift/internal/ml"
	"github.com/meshdrift/meshdrift/internal/pipeline"
	"github.com/meshdrift/meshdrift/internal/store"
)

const historyRingSize = 200

// appRuntime holds the wired long-running services behind `serve`.
type appRuntime struct {
	cfg       *config.EnvConfig
	store     *store.Store
	queue     *pipeline.Queue
	scheduler *pipeline.Scheduler
	server    *api.Server
}

// buildRuntime wires the full pipeline from the environment config.
func buildRuntime(cfg *config.EnvConfig) (*appRuntime, error) {
	rules, scoring, err := config.LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	if cfg.BaselineWindowSize > 0 {
		scoring.BaselineWindowSize = cfg.BaselineWindowSize
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.StateDir, "meshdrift.db"))
	if err != nil {
		return nil, err
	}

	memory := ml.NewMemory(st.Feedback, st.Whitelist)
	scorer := ml.NewSmartScorer(rules, scoring, st.Baselines, memory)
	tracker := history.NewTracker(historyRingSize)
	publisher := integration.NewInProcessPublisher()

	notifiers := []integration.Notifier{integration.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, integration.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout))
	}

	queue := pipeline.NewQueue(pipeline.Options{
		QueueSize:   cfg.QueueSize,
		Workers:     cfg.Workers,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Deadlines: map[pipeline.TaskKind]time.Duration{
			pipeline.TaskBuildSnapshot:     cfg.SnapshotDeadline,
			pipeline.TaskDetectDrift:       cfg.DriftDeadline,
			pipeline.TaskSendNotifications: cfg.NotifyDeadline,
		},
	})
	tasks := pipeline.NewTasks(queue, st, integration.NewFileIngestor(), notifiers, publisher, scorer, tracker)
	scheduler := pipeline.NewScheduler(queue, tasks, cfg.Tenants, cfg.SourceRef, cfg.RetentionDays, scoring.BaselineWindowSize)

	server := api.NewServerWithAddress(cfg.ListenAddress, cfg.Port, cfg.AdminToken, int64(cfg.APIMaxBodyBytes), api.Deps{
		Store:     st,
		Queue:     queue,
		Scheduler: scheduler,
		History:   tracker,
		Version:   buildinfo.Version,
	})

	return &appRuntime{
		cfg:       cfg,
		store:     st,
		queue:     queue,
		scheduler: scheduler,
		server:    server,
	}, nil
}

// run starts everything and blocks until SIGINT/SIGTERM.
func (a *appRuntime) run() error {
	a.queue.Start()
	if err := a.scheduler.Start(pipeline.Schedules{
		Snapshot:  a.cfg.SnapshotSchedule,
		Retention: a.cfg.RetentionSchedule,
		Baseline:  a.cfg.BaselineSchedule,
	}); err != nil {
		a.queue.Stop()
		a.store.Close()
		return err
	}

	go func() {
		log.Printf("meshdrift API server starting on %s:%d", a.cfg.ListenAddress, a.cfg.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	a.scheduler.Stop()
	a.queue.Stop()
	if err := a.store.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}
	log.Println("Server stopped")
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the drift pipeline: store, workers, schedules, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEnvConfig()
			if err != nil {
				return err
			}
			if config.IsWeakToken(cfg.AdminToken) {
				log.Printf("WARNING: MESHDRIFT_ADMIN_TOKEN looks weak; use a longer random token")
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			return rt.run()
		},
	}
}
