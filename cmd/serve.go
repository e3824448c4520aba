package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/httpapi"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/service"
	"github.com/MimeLyc/podharvest/pkg/log"
)

const (
	serveWorkers    = 2
	shutdownTimeout = 10 * time.Second
)

type harvestScheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled harvests and the HTTP API until interrupted",
		Long: `Start the background task queue, register the harvest schedule
(CRON_EXPR) and serve the HTTP API. Harvests, summarization passes and ad hoc
URLs can be triggered through the API; task history is kept in the task
database under DATA_DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open task database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Closing task database: %v", err)
		}
	}()

	var (
		settings   service.SettingsSource
		serverOpts = []httpapi.Option{
			httpapi.WithRunStore(store),
			httpapi.WithDownloadsDir(a.cfg.Paths.DownloadsDir),
		}
	)
	initial := a.loadSettings()
	if settingsStore, err := config.NewSummarizerStore(a.cfg.Paths.SummarizerFile, initial); err != nil {
		log.Warn("Summarizer settings are not editable: %v", err)
		settings = staticSettings(initial)
	} else {
		settings = settingsStore
		serverOpts = append(serverOpts, httpapi.WithSummarizerSettings(settingsStore))
	}

	svc := a.newService(settings, service.WithRecorder(store))

	queue := jobs.NewQueue(serveWorkers, store)
	queue.Start(svc.Execute)
	defer queue.Stop()

	engine := cron.New()
	scheduler := service.NewScheduler(engine, queue, a.cfg.Harvest.CronExpr)
	serverOpts = append(serverOpts, httpapi.WithSchedule(scheduler))
	srv := httpapi.NewServer(svc, queue, serverOpts...)

	return runWithComponents(ctx, a.cfg, scheduler, engine, srv)
}

// runWithComponents registers the schedule, starts the cron engine and
// serves HTTP until ctx is done or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, scheduler harvestScheduler, engine cronEngine, srv httpServer) error {
	if err := scheduler.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule harvest: %w", err)
	}
	engine.Start()
	defer engine.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
