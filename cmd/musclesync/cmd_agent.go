// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/eds331/musclepro-app/pkg/logging"
	"github.com/eds331/musclepro-app/services/agent"
	"github.com/eds331/musclepro-app/services/agent/routes"
	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/syncer"

	"github.com/prometheus/client_golang/prometheus"
)

// ===== Command Flags =====

var (
	agentListen  string // override config listen address
	agentDataDir string // override config data directory
	agentTrace   bool   // emit spans to stderr
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the sync agent",
	Long: `Runs the sync agent in the foreground: opens the local cache, connects
the configured cloud backend, resumes any previous session and serves the
loopback HTTP API until interrupted.

Examples:
  musclesync agent
  musclesync agent --listen 127.0.0.1:7700
  musclesync agent --data-dir /tmp/musclesync-dev --trace`,
	RunE: runAgentCommand,
}

func init() {
	agentCmd.Flags().StringVar(&agentListen, "listen", "",
		"Listen address (overrides config)")
	agentCmd.Flags().StringVar(&agentDataDir, "data-dir", "",
		"Data directory (overrides config)")
	agentCmd.Flags().BoolVar(&agentTrace, "trace", false,
		"Write OpenTelemetry spans to stderr")
	rootCmd.AddCommand(agentCmd)
}

func runAgentCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if agentListen != "" {
		cfg.Listen = agentListen
	}
	if agentDataDir != "" {
		cfg.DataDir = agentDataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLogs := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		LogDir:  cfg.Log.Dir,
		Service: "musclesync",
		JSON:    cfg.Log.JSON,
	})
	defer closeLogs()

	if agentTrace {
		shutdown, err := initTracing()
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	cacheCfg := localcache.DefaultConfig(cfg.CacheDir())
	cacheCfg.Logger = logger
	cache, err := localcache.Open(cacheCfg)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := syncer.NewMetrics(prometheus.DefaultRegisterer)
	a := agent.New(ctx, cfg, configPath, cache, metrics, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, a)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx, router) })
	g.Go(func() error { return a.WatchConfig(ctx, configPath) })

	err = g.Wait()
	logger.Info("agent stopped")
	return err
}

// initTracing installs a stderr span exporter for local debugging.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}
