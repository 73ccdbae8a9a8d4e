package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cronplan/internal/api"
	"cronplan/internal/config"
	"cronplan/internal/core"
	"cronplan/internal/logging"
	cronplanmcp "cronplan/internal/mcp"
	"cronplan/internal/notify"
	"cronplan/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.RunRetention)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Error("configure notifications", "err", err)
		os.Exit(1)
	}

	location := cfg.Location()
	scheduler := core.NewScheduler(storeInst, notifier, logger, location)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}
	logger.Info("scheduler started", "mode", cfg.Mode, "location", location.String(), "state_dir", cfg.StateDir)

	mcpServer := cronplanmcp.NewMCPServer(storeInst, scheduler, logger, location)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Mode == config.ModeHTTP || cfg.Mode == config.ModeBoth {
		server = api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, storeInst, scheduler, mcpServer.HTTPHandler(), logger, location)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	mcpErr := make(chan error, 1)
	if cfg.Mode == config.ModeMCP || cfg.Mode == config.ModeBoth {
		go func() {
			// ServeStdio returns nil when stdin closes, which ends the session.
			mcpErr <- mcpServer.Run()
		}()
	}

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		} else {
			logger.Info("mcp session closed")
		}
	}

	shutdown(cfg, server, scheduler, logger)
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, bark)
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

func shutdown(cfg *config.Config, server *api.Server, scheduler *core.Scheduler, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("scheduler stop timed out")
	}
	logger.Info("shutdown complete")
}
