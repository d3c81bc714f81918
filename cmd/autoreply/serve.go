package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/autoreply/internal/api"
	"github.com/gotrs-io/autoreply/internal/config"
	"github.com/gotrs-io/autoreply/internal/services/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the polling scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := bootstrap(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	// Settings are read once at startup; edits are validated and reported.
	if _, err := config.Watch(configFile, func(*config.Config) {
		a.log.Info("configuration file changed, restart to apply", zap.String("file", configFile))
	}, func(err error) {
		a.log.Warn("ignoring invalid configuration change", zap.Error(err))
	}); err != nil {
		a.log.Warn("configuration watch disabled", zap.Error(err))
	}

	opts := []api.RouterOption{
		api.WithLogger(a.log.Named("http")),
		api.WithHealthCheck(a.db),
	}
	if a.status != nil {
		opts = append(opts, api.WithPollStatus(a.status))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(cfg.Metrics.Path, nil))
	}

	var sched *scheduler.Service
	if cfg.Scheduler.Enabled {
		jobs := scheduler.DefaultJobs()
		jobs[0] = scheduler.AutoreplyJob(cfg.Scheduler.Schedule, int(cfg.Scheduler.Timeout.Seconds()), cfg.Scheduler.RunOnStartup)
		sched = scheduler.NewService(a.runner,
			scheduler.WithLogger(a.log.Named("scheduler")),
			scheduler.WithLedgerFlusher(a.ledger),
			scheduler.WithJobs(jobs),
			scheduler.WithLocation(config.Location(cfg.Scheduler.Timezone)),
		)
		opts = append(opts, api.WithJobs(sched))
	}

	router := api.NewRouter(a.runner, a.ledger, opts...)
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
