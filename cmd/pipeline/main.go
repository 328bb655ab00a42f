package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microbook/internal/config"
	"microbook/internal/logging"
	"microbook/internal/observer"
	"microbook/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML configuration file (defaults applied if empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Get()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAgeDays); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	entry := log.WithComponent("main")

	obs := observer.NewLogObserver(log.WithComponent("observer"))
	pipeline := orchestrator.New(cfg, log, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	entry.WithFields(logging.Fields{"symbol": cfg.Feed.Symbol}).Info("pipeline started")

	var httpServer *http.Server
	if handler := pipeline.HTTPHandler(); handler != nil {
		httpServer = &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				entry.WithError(err).Error("http server exited")
			}
		}()
		entry.WithFields(logging.Fields{"addr": cfg.HTTP.Addr}).Info("operator http surface listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	entry.WithFields(logging.Fields{"signal": sig.String()}).Info("received shutdown signal")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	pipeline.Shutdown()
	entry.Info("pipeline stopped")
	return nil
}
