package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scriptagent/internal/agent"
	"scriptagent/internal/config"
	"scriptagent/internal/domain"
	"scriptagent/internal/memory"
	"scriptagent/internal/metrics"
	"scriptagent/internal/provider"
	"scriptagent/internal/security"
	"scriptagent/internal/telemetry"
	"scriptagent/internal/tool"
)

// providerMode says whether a command needs a model.
type providerMode int

const (
	noProvider       providerMode = iota // exec, tools
	optionalProvider                     // chat, gateway: /exec still works without one
	requireProvider                      // run, batch
)

// app is the wired agent plus the resources that must be released.
type app struct {
	cfg      *config.Config
	agent    *agent.Agent
	registry *tool.Registry
	store    *memory.SQLiteStore // nil when memory is disabled
	metrics  *metrics.Collector
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, mode providerMode) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	state := agent.NewState()
	a.registry = tool.NewRegistry(logger)
	if _, err := tool.RegisterManifest(a.registry, cfg.Tools.Enabled, tool.Deps{
		State:        state,
		MaxNoteBytes: cfg.Tools.Notes.MaxNoteBytes,
		MaxNotes:     cfg.Tools.Notes.MaxNotes,
	}); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	var taskStore agent.TaskStore
	var audit domain.AuditLogger
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		a.store = store
		taskStore = store
		if cfg.Security.AuditLog {
			audit = store
		}
	}

	gate, err := security.NewEngine(cfg.Security, a.registry.Names(), audit, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("security engine: %w", err)
	}

	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown = shutdown
	tracer := tp.Tracer("scriptagent/agent")

	var prov domain.Provider
	if mode != noProvider {
		prov, err = provider.NewFactory(cfg, logger).Primary()
		switch {
		case err != nil && mode == requireProvider:
			a.Close()
			return nil, fmt.Errorf("provider: %w", err)
		case err != nil:
			logger.Warn("no model provider, only raw responses can be processed", "err", err)
		default:
			logger.Debug("provider ready", "provider", prov.Name())
		}
	}

	a.agent = agent.New(agent.Config{
		Provider:     prov,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		Role:         cfg.Agent.Role,
		ModelTimeout: seconds(cfg.Agent.ModelTimeoutSeconds),
		Registry:     a.registry,
		Validator:    gate,
		State:        state,
		Executor: agent.NewExecutor(agent.ExecutorConfig{
			Registry:    a.registry,
			ToolTimeout: seconds(cfg.Agent.ToolTimeoutSeconds),
			MaxCalls:    cfg.Agent.MaxCalls,
			Observer:    a.metrics,
			Tracer:      tracer,
			Logger:      logger,
		}),
		Transaction: agent.TransactionMode(cfg.Agent.Transaction),
		Store:       taskStore,
		Observer:    a.metrics,
		Tracer:      tracer,
		Logger:      logger,
	})
	return a, nil
}

// Close flushes traces and closes the store.
func (a *app) Close() {
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close memory store", "err", err)
		}
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// setupLogger builds the process logger from general.logLevel and
// general.logFile. The returned closer releases the log file, if any.
func setupLogger(cfg config.GeneralConfig, stderr io.Writer) (*slog.Logger, func() error, error) {
	var level slog.Level
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}

	out, closer := stderr, func() error { return nil }
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = io.MultiWriter(stderr, f), f.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}
