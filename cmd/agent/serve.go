package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync-agent/internal/api"
	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/playback"
	"github.com/reelsync/reelsync-agent/internal/service"
	"github.com/reelsync/reelsync-agent/internal/ui"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: local API, background sync and tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	startTime := time.Now()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	logger.Info("starting reelsync agent", "version", config.Version, "data_dir", cfg.DataDir())

	authToken, err := ensureAuthToken(cmd.Context(), a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  REELSYNC AGENT v%-25s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s║\n", authToken)
	fmt.Printf("║  User ID:    %-45s║\n", a.identity.UserID)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runner := service.NewRunner(a.svc, cfg.SyncInterval(), logger)
	go runner.Start(ctx)

	if a.amqp != nil {
		go func() {
			if err := a.amqp.Listen(ctx, runner.HandleEvent); err != nil && ctx.Err() == nil {
				logger.Error("change notification listener stopped", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        a.svc,
		Runner:         runner,
		PlaybackServer: playback.NewServer(logger),
		Repository:     a.repo,
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       a.identity.DeviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Service: a.svc,
			Runner:  runner,
			Logger:  logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
