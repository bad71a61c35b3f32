package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/transformerlab/provision-monitor/internal/config"
	"github.com/transformerlab/provision-monitor/internal/observability"
	"github.com/transformerlab/provision-monitor/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", "0.1.0").
		Msg("Starting provisioning monitor")

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(observability.TracerConfig{Enabled: true})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
		} else {
			defer shutdown(context.Background())
		}
	}

	monitor, err := service.NewMonitor(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create monitor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := monitor.Start(ctx); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Monitor error")
	}

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if err := monitor.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Monitor stopped")
}
