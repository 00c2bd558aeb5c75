// cmd/velocityd serves the indicator engine: HTTP API, WebSocket feed and
// Prometheus metrics over a SQLite bar store with an optional Redis cache.
//
// Configuration comes from VELOCITY_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aadhaar-velocity/config"
	"aadhaar-velocity/internal/logger"
	"aadhaar-velocity/internal/velocityd"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "velocityd: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init("velocityd", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("sqlite", cfg.SQLitePath).
		Bool("cache", cfg.CacheEnabled()).
		Msg("configuration loaded")

	svc, err := velocityd.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
