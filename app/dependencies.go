package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/handlers"
	"github.com/upb/image-gateway/internal/observability"
	"github.com/upb/image-gateway/middleware"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/repositories/memory"
	"github.com/upb/image-gateway/repositories/postgres"
	"github.com/upb/image-gateway/repositories/redis"
	"github.com/upb/image-gateway/services/audit"
	"github.com/upb/image-gateway/services/dispatcher"
	"github.com/upb/image-gateway/services/placeholder"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/services/providers/jimeng"
	"github.com/upb/image-gateway/services/providers/openai"
)

// Credential store backends reported at startup
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  observability.Metrics

	// Storage
	DB          *postgres.DB
	RepoFactory *postgres.RepositoryFactory
	Redis       *goredis.Client
	StoreKind   string
	Credentials repositories.CredentialRepository
	Generations repositories.GenerationRepository
	Audit       *audit.AuditService

	// Generation
	Providers  *providers.Registry
	Dispatcher *dispatcher.Dispatcher

	SessionMiddleware *middleware.SessionMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initDispatcher(cfg)
	deps.SessionMiddleware = middleware.NewSessionMiddleware(cfg.Secondary.KeyHeader, logger)

	logger.Info("all dependencies initialized successfully",
		zap.String("credential_store", deps.StoreKind),
		zap.Bool("forward", deps.Dispatcher.ForwardEnabled()),
		zap.Bool("secondary", deps.Dispatcher.SecondaryEnabled()),
		zap.Bool("placeholder", deps.Dispatcher.PlaceholderEnabled()))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	d.Registry = prometheus.NewRegistry()
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}

	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewPrometheusMetrics(d.Registry)
}

// initStorage selects the credential store: Postgres when a database is
// configured, Redis when REDIS_URL is set, otherwise process memory.
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch {
	case cfg.Database != nil:
		factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB()

		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		repos := factory.NewRepositories()
		d.Credentials = repos.Credentials
		d.Generations = repos.Generations
		d.StoreKind = StorePostgres

	case cfg.Redis.URL != "":
		client, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = client
		d.Credentials = redis.NewCredentialRepository(client, cfg.Redis.KeyPrefix, d.Logger)
		d.StoreKind = StoreRedis

	default:
		d.Credentials = memory.NewCredentialRepository()
		d.StoreKind = StoreMemory
		d.Logger.Info("no database or redis configured, credentials are kept in memory")
	}
	return nil
}

func (d *Dependencies) initAudit() error {
	if d.Generations == nil {
		return nil
	}
	d.Audit = audit.NewAuditService(d.Generations, d.Logger, audit.DefaultConfig())
	return d.Audit.Start()
}

// initProviders registers one client per upstream stage, enabled or not, so
// the health endpoint can describe the whole chain.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	forward, _ := cfg.Strategy(config.StageForward)
	if err := registry.Register(jimeng.NewClient(forward, d.Logger)); err != nil {
		return fmt.Errorf("register forward provider: %w", err)
	}

	secondary, _ := cfg.Strategy(config.StageSecondary)
	if err := registry.Register(openai.NewChatImageAdapter(secondary, cfg.Secondary.Model, d.Logger)); err != nil {
		return fmt.Errorf("register secondary provider: %w", err)
	}

	if cfg.Forward.Enabled && cfg.ForwardTargetIsSelf() {
		d.Logger.Warn("forward target points at this gateway, forward stage disabled",
			zap.String("real_api_url", cfg.Forward.BaseURL),
			zap.Int("port", cfg.Server.Port))
	}
	if !cfg.Placeholder.Enabled {
		d.Logger.Warn("placeholder stage disabled, requests can fail with exhausted_fallback")
	}

	d.Providers = registry
	return nil
}

func (d *Dependencies) initDispatcher(cfg *config.Config) {
	opts := dispatcher.Options{
		Credentials:        d.Credentials,
		StaticSecondaryKey: cfg.Secondary.APIKey,
		Delay:              dispatcher.FixedDelay(cfg.Secondary.Delay),
		Metrics:            d.Metrics,
		Logger:             d.Logger,
	}

	if client, err := d.Providers.Get(config.StageForward); err == nil {
		opts.Forward = client
	}
	if client, err := d.Providers.Get(config.StageSecondary); err == nil {
		opts.Secondary = client
	}
	if cfg.Placeholder.Enabled {
		opts.Placeholder = placeholder.NewGenerator(cfg.Placeholder.BaseURL)
	}
	if d.Audit != nil {
		opts.Recorder = d.Audit
	}

	d.Dispatcher = dispatcher.New(opts)
}

// HealthChecks returns the readiness checks for the configured backends
func (d *Dependencies) HealthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if d.DB != nil {
		checks["database"] = d.DB.HealthCheck
	}
	if rc, ok := d.Credentials.(*redis.CredentialRepository); ok {
		checks["redis"] = rc.HealthCheck
	}
	return checks
}

func (d *Dependencies) closeStorage() []error {
	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		d.RepoFactory = nil
		d.DB = nil
	}
	return errs
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending generation records before the database goes away
	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	errs = append(errs, d.closeStorage()...)

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
