package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/roushou/stepwise/internal/adapter/inbox"
	"github.com/roushou/stepwise/internal/adapter/mcp"
	"github.com/roushou/stepwise/internal/adapter/storage/file"
	"github.com/roushou/stepwise/internal/adapter/storage/memory"
	redisstore "github.com/roushou/stepwise/internal/adapter/storage/redis"
	"github.com/roushou/stepwise/internal/domain/runlog"
	"github.com/roushou/stepwise/internal/domain/session"
	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/platform/config"
	"github.com/roushou/stepwise/internal/platform/identity"
	"github.com/roushou/stepwise/internal/platform/logging"
	"github.com/roushou/stepwise/internal/usecase"
)

const redisPingTimeout = 3 * time.Second

type App struct {
	cfg         config.Config
	logger      *slog.Logger
	steps       *usecase.Stepper
	definitions *usecase.DefinitionService
	runlogs     runlog.Store
	mailbox     *inbox.Mailbox
	cleanup     []func()
}

func New(cfg config.Config) (*App, error) {
	return NewWithLogger(cfg, logging.New(cfg.LogLevel))
}

func NewWithLogger(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}
	a := &App{cfg: cfg, logger: logger}

	backend, err := a.buildSessionBackend()
	if err != nil {
		a.Close()
		return nil, err
	}
	definitions, err := a.buildDefinitionStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := definitions.EnsureDefaults(context.Background()); err != nil {
		a.Close()
		return nil, fmt.Errorf("seed workflow definitions: %w", err)
	}
	runlogs, err := a.buildRunlogStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	mailbox, err := inbox.New(cfg.InboxDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	sessions := session.NewStore(backend, session.StoreConfig{TTL: cfg.SessionTTL})
	steps, err := usecase.NewStepper(usecase.StepperDeps{
		Logger:      logger,
		Definitions: definitions,
		Sessions:    sessions,
		Source:      mailbox,
		Executor:    mailbox,
		Runlogs:     runlogs,
		NewID:       identity.NewID,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.steps = steps
	a.definitions = usecase.NewDefinitionService(definitions, logger)
	a.runlogs = runlogs
	a.mailbox = mailbox
	return a, nil
}

func (a *App) Steps() *usecase.Stepper {
	return a.steps
}

func (a *App) Definitions() *usecase.DefinitionService {
	return a.definitions
}

func (a *App) Mailbox() *inbox.Mailbox {
	return a.mailbox
}

func (a *App) Runlogs() runlog.Store {
	return a.runlogs
}

// Close releases backend connections. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// Serve runs the MCP server over reader/writer alongside the periodic
// sweeper until the input stream ends or ctx is cancelled.
func (a *App) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	a.logger.Info("stepwise serving",
		"server_name", a.cfg.ServerName,
		"session_backend", a.cfg.SessionBackend,
		"state_dir", a.cfg.StateDir,
	)
	server := mcp.NewServer(
		a.cfg.ServerName,
		reader,
		writer,
		a.logger,
		a.steps,
		a.definitions,
		a.runlogs,
		buildMCPServerRuntimeConfig(a.cfg),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		if err := server.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp serve: %w", err)
		}
		return nil
	})
	if a.cfg.CleanupInterval > 0 {
		g.Go(func() error {
			a.runSweeper(gctx, a.cfg.CleanupInterval)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		a.logger.Info("stepwise stopped")
		return err
	case <-runCtx.Done():
	}
	select {
	case err := <-done:
		a.logger.Info("stepwise stopped")
		return err
	case <-time.After(a.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown did not complete within %s", a.cfg.ShutdownTimeout)
	}
}

func (a *App) buildSessionBackend() (session.Backend, error) {
	switch a.cfg.SessionBackend {
	case config.BackendMemory:
		return memory.NewSessionBackend(), nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr: a.cfg.RedisAddr,
			DB:   a.cfg.RedisDB,
		})
		a.cleanup = append(a.cleanup, func() { _ = client.Close() })
		backend := redisstore.NewSessionBackend(client,
			redisstore.WithKeyPrefix(a.cfg.RedisKeyPrefix),
			redisstore.WithLockTTL(a.cfg.RedisLockTTL),
		)
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := backend.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis at %s: %w", a.cfg.RedisAddr, err)
		}
		return backend, nil
	default:
		return file.NewSessionBackend(a.cfg.SessionDir())
	}
}

// Memory mode keeps everything ephemeral, definitions and audit log included.
func (a *App) buildDefinitionStore() (workflow.DefinitionStore, error) {
	if a.cfg.SessionBackend == config.BackendMemory {
		return memory.NewDefinitionStore(), nil
	}
	return file.NewDefinitionStore(a.cfg.DefinitionsPath)
}

func (a *App) buildRunlogStore() (runlog.Store, error) {
	if a.cfg.SessionBackend == config.BackendMemory {
		return runlog.NewInMemoryStore(), nil
	}
	return file.NewRunlogStore(a.cfg.RunlogPath())
}

func buildMCPServerRuntimeConfig(cfg config.Config) mcp.ServerRuntimeConfig {
	return mcp.ServerRuntimeConfig{
		MaxPayloadBytes: cfg.MCPMaxPayloadBytes,
		RateLimit:       cfg.MCPRateLimit,
		RateBurst:       cfg.MCPRateBurst,
	}
}
