package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jomardyan/FlexiFocus/internal/alarm"
	"github.com/jomardyan/FlexiFocus/internal/broadcast"
	"github.com/jomardyan/FlexiFocus/internal/config"
	"github.com/jomardyan/FlexiFocus/internal/dispatch"
	"github.com/jomardyan/FlexiFocus/internal/effects"
	"github.com/jomardyan/FlexiFocus/internal/handler"
	"github.com/jomardyan/FlexiFocus/internal/router"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var ephemeral bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the timer daemon",
		Long: `Runs the timer daemon: restores the persisted timer, re-arms pending
wake-ups and serves the command channel and event stream on localhost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(os.Stdout, cfg), ephemeral)
		},
	}

	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep state in memory only")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, ephemeral bool) error {
	st, closeStore, err := openStore(cfg, logger, ephemeral)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := broadcast.NewHub()
	defer hub.Close()

	var timerService *service.TimerService
	scheduler := alarm.New(func(name string) {
		timerService.HandleAlarm(name)
	})
	timerService = service.NewTimerService(service.TimerServiceDeps{
		Store:     st,
		Scheduler: scheduler,
		Publisher: hub,
		Collaborators: effects.Collaborators{
			Notifier: effects.CommandNotifier{Command: effects.Command{Template: cfg.Commands.Notify, Logger: logger}},
			Opener:   effects.CommandTabOpener{Command: effects.Command{Template: cfg.Commands.Open, Logger: logger}},
			Sound:    effects.CommandSoundPlayer{Command: effects.Command{Template: cfg.Commands.Sound, Logger: logger}},
			Badge:    effects.NewLogBadge(logger),
		},
		Logger:        logger,
		BadgeSchedule: cfg.BadgeSchedule,
		BreakURL:      cfg.BreakURL,
	})
	defer timerService.Wait()
	scheduler.Start()
	// Stops before the store closes so no alarm handler outlives it.
	defer scheduler.Stop()

	if _, apiErr := timerService.Recover(ctx); apiErr != nil {
		return fmt.Errorf("recover timer: %s", apiErr.Message)
	}

	if cfg.Level() != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	tokenService := service.NewTokenService(cfg.JWTSecret, cfg.TokenTTL())
	timerHandler := handler.NewTimerHandler(timerService, dispatch.New(timerService), hub)
	engine := router.New(tokenService, timerHandler, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("flexifocus listening", "addr", srv.Addr, "db", cfg.DBPath, "ephemeral", ephemeral)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	// Ends open event streams so Shutdown does not wait on them.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
