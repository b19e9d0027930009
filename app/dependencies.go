package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/upb/repairdesk-core/config"
	"github.com/upb/repairdesk-core/internal/notify"
	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/internal/secrets"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/repositories/memory"
	"github.com/upb/repairdesk-core/repositories/postgres"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/services/audit"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/invitations"
	"github.com/upb/repairdesk-core/services/organizations"
	"github.com/upb/repairdesk-core/services/ratelimit"
	"github.com/upb/repairdesk-core/services/tenancy"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *sql.DB               // nil with memory storage
	Redis   redis.UniversalClient // nil when REDIS_ADDR is unset

	RepoFactory *postgres.RepositoryFactory
	MemoryStore *memory.Store

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Audit         *audit.Service
	Limiter       *ratelimit.Limiter
	Credentials   *credentials.Service
	Resolver      *tenancy.Resolver
	Invitations   *invitations.Service
	Organizations *organizations.Service
	Policy        *access.Policy

	// Middleware
	ProxyTrust    *middleware.ProxyTrust
	AccessControl *middleware.AccessControl
	RateLimit     *middleware.RateLimit

	kafkaSink   *audit.KafkaSink
	asynqClient *asynq.Client
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	deps.initAudit(cfg)
	deps.initRateLimit(cfg)

	if err := deps.initServices(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := deps.bootstrapAdmin(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to bootstrap platform admin: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("rate_limit", deps.RateLimit != nil))
	return deps, nil
}

// initStorage opens PostgreSQL, or the in-process store for development
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage == config.StorageMemory {
		d.MemoryStore = memory.NewStore()
		d.Repos = d.MemoryStore.Repositories()
		d.TxManager = d.MemoryStore.TransactionManager()
		d.Logger.Warn("using in-memory storage; data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB().DB

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) {
	var sinks []audit.Sink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		d.kafkaSink = audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, d.Logger)
		sinks = append(sinks, d.kafkaSink)
	}
	d.Audit = audit.NewService(d.Repos.AuditLogs, d.Logger, d.Metrics, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	}, sinks...)
}

func (d *Dependencies) initRateLimit(cfg *config.Config) {
	var store ratelimit.Store
	if d.Redis != nil {
		store = ratelimit.NewRedisStore(d.Redis)
	} else {
		store = ratelimit.NewMemoryStore()
	}

	d.Limiter = ratelimit.NewLimiter(store, RateLimitConfig(cfg.RateLimit), d.Audit, d.Metrics, d.Logger)
	if !cfg.RateLimit.Enabled {
		d.Logger.Warn("rate limiting disabled")
		return
	}
	d.RateLimit = middleware.NewRateLimit(d.Limiter, d.Logger)
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	hasher, err := credentials.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	if cfg.Auth.SecretsKey == "" {
		d.Logger.Warn("TWO_FACTOR_ENCRYPTION_KEY not set; two-factor secrets will not survive a restart")
	}
	encryptor, err := secrets.NewEncryptor(cfg.Auth.SecretsKey)
	if err != nil {
		return fmt.Errorf("invalid two-factor encryption key: %w", err)
	}

	d.Credentials = credentials.NewService(credentials.Dependencies{
		Accounts:      d.Repos.Accounts,
		RefreshTokens: d.Repos.RefreshTokens,
		Hasher:        hasher,
		Encryptor:     encryptor,
		Audit:         d.Audit,
		Metrics:       d.Metrics,
		Logger:        d.Logger,
	}, credentials.Config{
		JWTSecret:        cfg.Auth.JWTSecret,
		Issuer:           cfg.Auth.Issuer,
		AccessTokenTTL:   cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL:  cfg.Auth.RefreshTokenTTL,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.Auth.LockoutDuration,
		TOTPIssuer:       cfg.Auth.TOTPIssuer,
		TOTPSkew:         cfg.Auth.TOTPSkew,
	})

	d.Resolver = tenancy.NewResolver(d.Repos.Accounts, d.Repos.Organizations, d.Repos.Services)
	d.Organizations = organizations.NewService(d.Repos.Organizations, d.Audit)

	d.Invitations = invitations.NewService(invitations.Dependencies{
		Invitations:   d.Repos.Invitations,
		Accounts:      d.Repos.Accounts,
		Organizations: d.Repos.Organizations,
		TxManager:     d.TxManager,
		Hasher:        hasher,
		Notifier:      d.newNotifier(cfg),
		Audit:         d.Audit,
		Logger:        d.Logger,
	}, invitations.Config{
		TTL:           cfg.Auth.InvitationTTL,
		InviteBaseURL: cfg.Notify.InviteBaseURL,
	})

	d.Policy, err = access.Compile(access.DefaultRules())
	if err != nil {
		return fmt.Errorf("invalid access policy: %w", err)
	}
	d.AccessControl = middleware.NewAccessControl(d.Credentials, d.Resolver, d.Policy, d.Audit, d.Metrics, d.Logger)

	d.ProxyTrust, err = middleware.NewProxyTrust(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	if len(cfg.Server.TrustedProxies) == 0 {
		d.Logger.Info("no trusted proxies configured; forwarding headers are ignored")
	}
	return nil
}

// newNotifier queues invitation emails on asynq when a queue is configured
func (d *Dependencies) newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notify.AsynqRedisAddr == "" {
		d.Logger.Warn("notification queue not configured; invitations are logged only")
		return notify.NewLogNotifier(d.Logger)
	}
	d.asynqClient = notify.NewAsynqClient(cfg.Notify.AsynqRedisAddr, cfg.Redis.Password)
	return notify.NewAsynqNotifier(d.asynqClient, cfg.Notify.Queue, d.Logger)
}

// bootstrapAdmin creates the configured platform admin when no account
// with that email exists yet.
func (d *Dependencies) bootstrapAdmin(ctx context.Context, cfg *config.Config) error {
	email := cfg.Auth.BootstrapAdminEmail
	if email == "" || cfg.Auth.BootstrapAdminPassword == "" {
		return nil
	}

	_, err := d.Repos.Accounts.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	hasher, err := credentials.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.Auth.BootstrapAdminPassword)
	if err != nil {
		return err
	}

	account := models.NewAccount(email, hash, models.RolePlatformAdmin, nil)
	if err := d.Repos.Accounts.Create(ctx, account); err != nil {
		return err
	}
	d.Logger.Info("bootstrapped platform admin",
		zap.String("account_id", account.ID.String()),
		zap.String("email", email))
	return nil
}

// RateLimitConfig converts the environment settings into limiter tiers
func RateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	tier := func(t config.TierConfig) ratelimit.Tier {
		return ratelimit.Tier{Limit: t.Limit, Window: t.Window}
	}
	return ratelimit.Config{
		Tiers: map[ratelimit.Class]ratelimit.Tier{
			ratelimit.ClassGlobal:              tier(cfg.Global),
			ratelimit.ClassAuth:                tier(cfg.Auth),
			ratelimit.ClassAPI:                 tier(cfg.API),
			ratelimit.ClassAuthenticatedGlobal: tier(cfg.AuthenticatedGlobal),
			ratelimit.ClassAuthenticatedAPI:    tier(cfg.AuthenticatedAPI),
		},
		ViolationThreshold: cfg.ViolationThreshold,
		BlockDuration:      cfg.BlockDuration,
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.kafkaSink != nil {
		if err := d.kafkaSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka sink: %w", err))
		}
	}
	if d.asynqClient != nil {
		if err := d.asynqClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close asynq client: %w", err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
