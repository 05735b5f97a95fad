// ABOUTME: Wires configuration into a running assistant: backend, tools, history, run store, pipeline, supervisor.
// ABOUTME: Every CLI mode except MCP builds one app and closes it on the way out.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/config"
	"github.com/2389-research/buddy/conversation"
	"github.com/2389-research/buddy/llm"
	"github.com/2389-research/buddy/logging"
	"github.com/2389-research/buddy/store"
	"github.com/2389-research/buddy/tools"
	"github.com/2389-research/buddy/workflow"
)

type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	backend    llm.Backend
	registry   *tools.Registry
	history    *conversation.Store
	runs       store.RunStore
	supervisor *workflow.Supervisor
}

func newApp(ctx context.Context, cfg *config.Config, dataDir string, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		backend:  newBackend(cfg, logger),
		registry: tools.NewDefaultRegistry(nil),
	}

	historyOpts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithIdleTimeout(cfg.Conversation.IdleTimeout),
	}
	if cfg.Conversation.Persist {
		journal, err := conversation.NewFileJournal(filepath.Join(dataDir, "sessions"))
		if err != nil {
			return nil, fmt.Errorf("open session journal: %w", err)
		}
		historyOpts = append(historyOpts, conversation.WithJournal(journal))
	}
	a.history = conversation.NewStore(cfg.Conversation.Window, historyOpts...)

	runs, err := openRunStore(ctx, cfg, dataDir)
	if err != nil {
		a.history.Close()
		return nil, err
	}
	a.runs = runs

	telemetry, err := workflow.NewTelemetry()
	if err != nil {
		a.history.Close()
		_ = runs.Close()
		return nil, err
	}

	pipeline := &workflow.Pipeline{
		Generator: &workflow.BackendGenerator{
			Backend:       a.backend,
			Tools:         a.registry,
			Model:         cfg.LLM.Model,
			SystemPrompt:  cfg.LLM.SystemPrompt,
			MaxToolRounds: cfg.Pipeline.MaxToolRounds,
			Logger:        logger,
		},
		History:          a.history,
		Recorder:         runs,
		Telemetry:        telemetry,
		Policy:           cfg.Policy(),
		AttemptTimeout:   cfg.Timeouts.Attempt,
		MaxResponseChars: cfg.Pipeline.MaxResponseChars,
		Logger:           logger,
	}
	a.supervisor = workflow.NewSupervisor(pipeline, workflow.SupervisorOptions{
		Workers:    cfg.Pipeline.Workers,
		QueueSize:  cfg.Pipeline.QueueSize,
		RunTimeout: cfg.Timeouts.Run,
		Logger:     logger,
	})

	cliLog := logging.Component(logger, "cli")
	cliLog.Debug().
		Str("action", "ready").
		Str("backend", a.backend.Name()).
		Str("store", cfg.Store.Driver).
		Bool("persist_history", cfg.Conversation.Persist).
		Msg("assistant ready")
	return a, nil
}

// close drains in-flight runs, then releases history and the run store.
func (a *app) close(ctx context.Context) error {
	a.supervisor.Close(ctx)
	a.history.Close()
	return a.runs.Close()
}

func newBackend(cfg *config.Config, logger zerolog.Logger) llm.Backend {
	if cfg.Offline() {
		cliLog := logging.Component(logger, "cli")
		cliLog.Warn().Str("action", "offline").
			Msg("no API key configured, answering in demo mode")
		return llm.NewOffline()
	}
	var opts []llm.OpenAIOption
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithOpenAIBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.RequestTimeout > 0 {
		opts = append(opts, llm.WithOpenAITimeout(cfg.LLM.RequestTimeout))
	}
	return llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, opts...)
}

// openRunStore opens the configured store. A sqlite store without a DSN lives
// in the data directory.
func openRunStore(ctx context.Context, cfg *config.Config, dataDir string) (store.RunStore, error) {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == store.DriverSQLite && dsn == "" {
		if dataDir == "" {
			return nil, errors.New("sqlite store needs store.dsn or a data directory")
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "runs.db")
	}
	runs, err := store.Open(ctx, cfg.Store.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s run store: %w", cfg.Store.Driver, err)
	}
	return runs, nil
}
