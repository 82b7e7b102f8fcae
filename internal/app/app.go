package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/apiclient"
	"github.com/noah-isme/robotask-client/internal/handler"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/repository"
	"github.com/noah-isme/robotask-client/internal/service"
	"github.com/noah-isme/robotask-client/pkg/cache"
	"github.com/noah-isme/robotask-client/pkg/config"
	"github.com/noah-isme/robotask-client/pkg/database"
	"github.com/noah-isme/robotask-client/pkg/jobs"
	"github.com/noah-isme/robotask-client/pkg/storage"
)

// App holds the wired components shared by the web server and the CLI.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Client  *apiclient.Client
	Store   repository.SessionRepository
	Metrics *service.MetricsService
	Auth    *service.AuthService
	Tasks   *service.TaskService
	Stats   *service.StatisticsService
	Router  *service.ViewRouter
	Exports *service.ExportService
	Queue   *jobs.Queue

	checks  map[string]handler.ReadinessCheck
	closers []func() error
}

// New opens the configured session store and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, checks, closers, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := NewWithStore(cfg, logger, store)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, err
	}
	for name, check := range checks {
		a.checks[name] = check
	}
	a.closers = append(a.closers, closers...)
	logger.Info("session store ready", zap.String("backend", cfg.Session.Store), zap.String("profile", cfg.Session.Profile))
	return a, nil
}

// NewWithStore wires the components around an existing session store.
func NewWithStore(cfg *config.Config, logger *zap.Logger, store repository.SessionRepository) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := service.NewMetricsService()
	validate := validator.New()

	client := apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logger.Named("apiclient"),
		Metrics: metrics,
	})

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Client:  client,
		Store:   store,
		Metrics: metrics,
		checks: map[string]handler.ReadinessCheck{
			"session_store": func(ctx context.Context) error {
				_, _, err := store.Load(ctx)
				return err
			},
		},
	}

	var auth *service.AuthService
	a.Queue = jobs.NewQueue("server-logout", func(ctx context.Context, job jobs.Job) error {
		return auth.ServerLogoutHandler()(ctx, job)
	}, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: cfg.Logout.Retries,
		RetryDelay: cfg.Logout.RetryDelay,
		Logger:     logger.Named("jobs"),
	})

	auth = service.NewAuthService(client, store, validate, logger.Named("auth"), metrics, a.Queue, service.AuthConfig{
		Timeout:      cfg.API.Timeout,
		ServerLogout: cfg.Logout.ServerCall,
	})
	client.SetTokenSource(auth)
	client.OnUnauthorized(func(token string) { auth.HandleUnauthorized(token) })

	tasks := service.NewTaskService(client, auth, validate, logger.Named("tasks"), metrics, cfg.API.Timeout)
	stats := service.NewStatisticsService(client, auth, logger.Named("statistics"), cfg.API.Timeout)
	auth.OnSessionChange(func(*models.Session) {
		tasks.Reset()
		stats.Reset()
	})

	files, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		return nil, fmt.Errorf("prepare export directory: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Export.SignedURLSecret, cfg.Export.SignedURLTTL)

	a.Auth = auth
	a.Tasks = tasks
	a.Stats = stats
	a.Router = service.NewViewRouter(auth, tasks, stats)
	a.Exports = service.NewExportService(stats, files, signer, validate, logger.Named("export"), service.ExportConfig{
		DownloadPrefix: "/api/downloads",
		ResultTTL:      cfg.Export.SignedURLTTL,
	})
	return a, nil
}

// Start runs the background workers.
func (a *App) Start(ctx context.Context) {
	a.Queue.Start(ctx)
}

// Close drains queued jobs until ctx is done and releases the store.
func (a *App) Close(ctx context.Context) error {
	a.Queue.Shutdown(ctx)
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunExportCleanup removes expired exports every interval until ctx ends.
func (a *App) RunExportCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.Exports.Cleanup(0)
			if err != nil {
				a.Logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				a.Logger.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (repository.SessionRepository, map[string]handler.ReadinessCheck, []func() error, error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		return repository.NewMemorySessionRepository(), nil, nil, nil
	case config.StoreSQLite:
		db, err := database.NewSQLite(cfg.Session.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return sqlStore(ctx, db, cfg.Session.Profile)
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres session store: %w", err)
		}
		return sqlStore(ctx, db, cfg.Session.Profile)
	case config.StoreRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open redis session store: %w", err)
		}
		checks := map[string]handler.ReadinessCheck{"redis": redisCheck(client)}
		return repository.NewRedisSessionRepository(client, cfg.Session.Profile), checks, []func() error{client.Close}, nil
	case config.StoreFile, "":
		store, err := repository.NewFileSessionRepository(cfg.Session.Dir, cfg.Session.Profile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open file session store: %w", err)
		}
		return store, nil, nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
}

func sqlStore(ctx context.Context, db *sqlx.DB, profile string) (repository.SessionRepository, map[string]handler.ReadinessCheck, []func() error, error) {
	store := repository.NewSQLSessionRepository(db, profile)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("prepare session schema: %w", err)
	}
	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}
	return store, checks, []func() error{db.Close}, nil
}

func redisCheck(client *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
