// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/config"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/inference"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/telemetry"
)

// EnvAPIKey is sent as the bearer token when inference.engine is "openai".
const EnvAPIKey = "ALEUTIAN_PROVISION_API_KEY"

// app holds everything a command needs, built once from config and flags.
type app struct {
	cfg     config.ProvisionConfig
	cfgPath string
	proc    process.Manager
	reg     registry.Registry
	metrics *prometheus.Registry
	out     *output

	shutdownTelemetry func(context.Context) error
}

// newApp loads configuration, applies flag overrides and sets up logging,
// telemetry and the engine registry.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(&cfg, cmd.Flags().Changed)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	slog.Debug("Configuration loaded", "path", path)

	metrics := telemetry.NewRegistry()
	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry, metrics)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	proc := process.NewDefaultManager()
	return &app{
		cfg:               cfg,
		cfgPath:           path,
		proc:              proc,
		reg:               newRegistry(cfg.Engine, proc),
		metrics:           metrics,
		out:               newOutput(cmd.OutOrStdout(), outputFormat),
		shutdownTelemetry: shutdown,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTelemetry(ctx); err != nil {
		slog.Warn("Telemetry shutdown failed", "error", err)
	}
}

// applyFlags copies explicitly set command-line flags over the loaded config.
func applyFlags(cfg *config.ProvisionConfig, changed func(name string) bool) {
	if changed("catalog") {
		cfg.Catalog.Path = catalogPath
	}
	if changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if changed("assume-ram") {
		v := assumeRAM
		cfg.Probe.AssumeRAMGiB = &v
	}
	if changed("assume-gpu") {
		v := assumeGPU
		cfg.Probe.AssumeGPU = &v
	}
	if changed("start-server") {
		cfg.Engine.StartServer = startServer
	}
	if changed("max-attempts") {
		cfg.Verify.MaxAttempts = maxAttempts
	}
	if changed("interval") {
		cfg.Verify.Interval = pollInterval
	}
	if changed("metrics-textfile") {
		cfg.Metrics.TextfilePath = metricsTextfile
	}
	if changed("workers") {
		cfg.Inference.Workers = generateWorkers
	}
	if changed("addr") {
		cfg.Server.Addr = serveAddr
	}
}

func newRegistry(cfg config.EngineConfig, proc process.Manager) registry.Registry {
	if cfg.Backend == "http" {
		return registry.NewHTTPRegistry(cfg.Host, registry.HTTPOptions{
			RequestTimeout: cfg.CommandTimeout,
			StreamTimeout:  cfg.PullTimeout,
		})
	}
	return registry.NewCLIRegistry(proc, registry.CLIOptions{
		Binary:         cfg.Binary,
		CommandTimeout: cfg.CommandTimeout,
		PullTimeout:    cfg.PullTimeout,
	})
}

// loadCatalog returns the configured catalog or the embedded defaults.
func (a *app) loadCatalog() (*catalog.Catalog, error) {
	if a.cfg.Catalog.Path == "" {
		return catalog.Default()
	}
	return catalog.Load(a.cfg.Catalog.Path)
}

func (a *app) prober() probe.Prober {
	return probe.NewDefaultProber(a.proc, probe.Overrides{
		AvailableRAMGiB: a.cfg.Probe.AssumeRAMGiB,
		HasGPU:          a.cfg.Probe.AssumeGPU,
	})
}

// startEngineServer launches "<binary> serve" unless it is already running.
func (a *app) startEngineServer(ctx context.Context) error {
	return startEngineServer(ctx, a.proc, a.cfg.Engine.Binary)
}

func startEngineServer(ctx context.Context, proc process.Manager, binary string) error {
	running, pid, err := proc.IsRunning(ctx, binary+" serve")
	if err != nil {
		slog.Debug("Could not check for a running engine server", "error", err)
	}
	if running {
		slog.Info("Engine server already running", "pid", pid)
		return nil
	}

	pid, err = proc.Start(ctx, binary, "serve")
	if err != nil {
		return fmt.Errorf("start %s serve: %w", binary, err)
	}
	slog.Info("Engine server started", "binary", binary, "pid", pid)
	return nil
}

// newInference builds the cached, rate-limited worker pool over the
// configured engine. The returned closer releases the cache store.
func (a *app) newInference() (*inference.Runner, func() error, error) {
	cc := a.cfg.Inference.Cache

	var store inference.Store
	if cc.Backend == "badger" {
		bs, err := inference.OpenBadgerStore(inference.BadgerConfig{
			Path:   cc.Path,
			TTL:    cc.TTL,
			Logger: slog.Default(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open response cache: %w", err)
		}
		store = bs
	} else {
		store = inference.NewMemoryStore(cc.TTL)
	}

	var engine inference.Engine
	options := map[string]string{"engine": a.cfg.Inference.Engine}
	switch a.cfg.Inference.Engine {
	case "openai":
		engine = inference.NewOpenAIEngine(inference.OpenAIConfig{
			BaseURL: a.cfg.Engine.Host,
			APIKey:  os.Getenv(EnvAPIKey),
		})
	default:
		engine = inference.NewRegistryEngine(a.reg)
	}

	cache := inference.NewCache(store, engine, inference.NewMetrics(a.metrics), options).
		WithCallTimeout(a.cfg.Engine.CommandTimeout)
	runner := inference.NewRunner(cache, inference.RunnerConfig{
		Workers:       a.cfg.Inference.Workers,
		RatePerSecond: a.cfg.Inference.RatePerSecond,
		Burst:         a.cfg.Inference.Burst,
	})
	return runner, store.Close, nil
}

// writeTextfile exports the registry when a textfile path is configured.
func (a *app) writeTextfile() {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := telemetry.WriteTextfile(a.metrics, path); err != nil {
		slog.Warn("Metrics textfile not written", "path", path, "error", err)
		return
	}
	slog.Debug("Metrics textfile written", "path", path)
}

// acquireRunLock takes the single-run lock in dir or explains who holds it.
// The lock lives next to the artifact it guards.
func acquireRunLock(dir string) (*process.Lock, error) {
	cfg := process.DefaultLockConfig()
	if dir != "" {
		cfg.LockDir = dir
	}
	lock := process.NewLock(cfg)
	if err := lock.Acquire(); err != nil {
		var held *process.ErrLockHeld
		if errors.As(err, &held) {
			return nil, withCode(ExitLockHeld, err)
		}
		return nil, err
	}
	return lock, nil
}
