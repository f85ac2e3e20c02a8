package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"videoshop/internal/router"
	"videoshop/internal/task"
	"videoshop/pkg/database"
	"videoshop/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Server.Mode == "release" {
				gin.SetMode(gin.ReleaseMode)
			}
			log := logger.Named("[Main]")

			scheduler := task.NewTimerScheduler(10 * time.Minute)
			deps, err := initDependencies(cmd.Context(), cfg, scheduler)
			if err != nil {
				return err
			}
			defer deps.Close()

			jobs := task.NewTaskManager(taskConfig(cfg), deps.Services.Automation, deps.Services.Fulfillment)
			if err := jobs.Start(); err != nil {
				return err
			}

			r := router.SetupRouter(initControllers(deps.Services, jobs), router.Options{
				CORSOrigins: cfg.Server.CORSOrigins,
				RunCooldown: cfg.Server.RunCooldown,
				UploadsDir:  uploadsDir(cfg),
				Ready:       func() error { return database.Ping(deps.DB) },
			})
			srv := &http.Server{
				Addr:    ":" + cfg.Server.Port,
				Handler: r,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Infow("server listening", "port", cfg.Server.Port, "mode", cfg.Server.Mode)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCtx, stop := signalContext(cmd.Context())
			defer stop()
			select {
			case <-sigCtx.Done():
			case err := <-errCh:
				if err != nil {
					jobs.Stop()
					return err
				}
			}

			log.Infow("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorw("server forced to close", "error", err)
			}
			jobs.Stop()
			if err := scheduler.Stop(shutdownCtx); err != nil {
				log.Warnw("delayed jobs still running at shutdown", "pending", len(scheduler.Pending()), "error", err)
			}
			log.Infow("server exited")
			return nil
		},
	}
}
