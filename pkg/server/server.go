// Package server is the composition root for the Hostwarden control
// plane: it wires the store, MCP tool dispatcher, reasoning engine, and
// the monitoring scheduler into one running process.
package server

import (
	"context"
	"fmt"
	"os"

	"github.com/hostwarden/control-plane/internal/config"
	"github.com/hostwarden/control-plane/internal/configstore"
	"github.com/hostwarden/control-plane/internal/dispatcher"
	"github.com/hostwarden/control-plane/internal/executors"
	"github.com/hostwarden/control-plane/internal/monitor"
	"github.com/hostwarden/control-plane/internal/notify"
	"github.com/hostwarden/control-plane/internal/reasoning"
	"github.com/hostwarden/control-plane/internal/reasoning/providers"
	"github.com/hostwarden/control-plane/internal/scheduler"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/internal/telemetry"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized control plane.
type Server struct {
	Store       store.Store
	ConfigSvc   *configstore.Service
	Dispatcher  *dispatcher.Dispatcher
	Engine      *reasoning.Engine
	Runner      *monitor.Runner
	Scheduler   *scheduler.Scheduler
	Notifier    *notify.Service
	Config      *config.Config

	schedulerCancel context.CancelFunc
	shutdownFunc    func(context.Context) error
}

// New initializes every component against a PostgreSQL store when a
// database URL is configured, else an in-memory store (the
// zero-configuration default), and starts the scheduler.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("server: init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		dataStore, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("server: init postgres store: %w", err)
		}
		if err := dataStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("server: run migrations: %w", err)
		}
		log.Info().Msg("store initialized (postgres)")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("store initialized (in-memory)")
	}

	return build(ctx, cfg, dataStore, shutdown)
}

func build(ctx context.Context, cfg *config.Config, dataStore store.Store, shutdown func(context.Context) error) (*Server, error) {
	configSvc := configstore.New(dataStore)

	sshExec := executors.NewSSHExecutor(dataStore, dataStore)
	sftpExec := executors.NewSFTPExecutor(dataStore, dataStore)
	searchExec := executors.NewSearchExecutor(dataStore, cfg.Executors.SearchAPIKeyEnv, cfg.Executors.MCPHTTPTimeout)
	deployExec := executors.NewDeployExecutor(dataStore)

	disp := dispatcher.New(dataStore, cfg.MCP, sshExec, sftpExec, searchExec, deployExec, cfg.Executors.MCPHTTPTimeout)
	log.Info().Msg("tool dispatcher initialized")

	engine := reasoning.New(dataStore, disp, buildDrivers())
	log.Info().Msg("reasoning engine initialized")

	notifier := notify.NewService(dataStore)

	runner := monitor.New(dataStore, dataStore, dataStore, disp)
	runner.Notifier = notifier
	log.Info().Msg("monitor runner initialized")

	sched := scheduler.New(dataStore, runner, cfg.Scheduler)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sched.Run(schedCtx)
	log.Info().Msg("scheduler started")

	return &Server{
		Store:           dataStore,
		ConfigSvc:       configSvc,
		Dispatcher:      disp,
		Engine:          engine,
		Runner:          runner,
		Scheduler:       sched,
		Notifier:        notifier,
		Config:          cfg,
		schedulerCancel: schedCancel,
		shutdownFunc:    shutdown,
	}, nil
}

// buildDrivers registers one provider.Driver per LLM provider the
// process has credentials for via environment variables. A provider
// with no credentials is simply absent from the map; Engine.Reason
// returns an error if a request names one that isn't registered.
func buildDrivers() map[models.LLMProvider]providers.Driver {
	drivers := make(map[models.LLMProvider]providers.Driver)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		drivers[models.LLMProviderOpenAI] = providers.NewOpenAIDriver(key, os.Getenv("OPENAI_MODEL"))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		drivers[models.LLMProviderAnthropic] = providers.NewAnthropicDriver(key, os.Getenv("ANTHROPIC_MODEL"))
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		drivers[models.LLMProviderGoogle] = providers.NewGoogleDriver(key, os.Getenv("GOOGLE_MODEL"))
	}
	// Ollama needs no API key — a reachable daemon is enough.
	drivers[models.LLMProviderOllama] = providers.NewOllamaDriver(os.Getenv("OLLAMA_URL"), os.Getenv("OLLAMA_MODEL"))

	return drivers
}

// Shutdown stops the scheduler and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.schedulerCancel != nil {
		s.schedulerCancel()
	}
	if s.shutdownFunc != nil {
		return s.shutdownFunc(ctx)
	}
	return nil
}

// Port is a small convenience so cmd/server doesn't need to import
// internal/config directly for this one field.
func (s *Server) Port() int {
	return s.Config.Port
}
