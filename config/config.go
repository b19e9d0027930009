package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret is the signing key used when JWT_SECRET is unset outside production.
const DevJWTSecret = "repairdesk-development-signing-key-do-not-use"

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Storage       string
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TrustedProxies  []string // CIDRs allowed to set X-Forwarded-For / X-Real-IP
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig selects the distributed rate-limit store when Addr is set
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AuthConfig holds credential, token and two-factor settings
type AuthConfig struct {
	JWTSecret              string
	Issuer                 string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	LockoutThreshold       int
	LockoutDuration        time.Duration
	BcryptCost             int
	TOTPIssuer             string
	TOTPSkew               uint
	InvitationTTL          time.Duration
	// SecretsKey is an age X25519 identity used to encrypt two-factor
	// secrets at rest. Empty generates an ephemeral key.
	SecretsKey             string
	// BootstrapAdmin* create the first PLATFORM_ADMIN at startup when set
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// TierConfig is one rate-limit classification
type TierConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds per-classification limits and block policy
type RateLimitConfig struct {
	Enabled             bool
	Global              TierConfig
	Auth                TierConfig
	API                 TierConfig
	AuthenticatedGlobal TierConfig
	AuthenticatedAPI    TierConfig
	ViolationThreshold  int
	BlockDuration       time.Duration
	SweepInterval       time.Duration
}

// AuditConfig holds audit pipeline settings
type AuditConfig struct {
	BufferSize   int
	WorkerCount  int
	KafkaBrokers []string
	KafkaTopic   string
}

// NotifyConfig holds outbound notification settings
type NotifyConfig struct {
	AsynqRedisAddr string
	Queue          string
	InviteBaseURL  string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	env := getEnv("ENVIRONMENT", "development")
	jwtDefault := ""
	if env != "production" && env != "prod" {
		jwtDefault = DevJWTSecret
	}

	cfg := &Config{
		Environment: env,
		Storage:     strings.ToLower(getEnv("STORAGE_BACKEND", StoragePostgres)),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
			TrustedProxies:  getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:              getEnv("JWT_SECRET", jwtDefault),
			Issuer:                 getEnv("JWT_ISSUER", "repairdesk"),
			AccessTokenTTL:         getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:        getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			LockoutThreshold:       getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:        getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			BcryptCost:             getEnvAsInt("BCRYPT_COST", 12),
			TOTPIssuer:             getEnv("TOTP_ISSUER", "RepairDesk"),
			TOTPSkew:               uint(getEnvAsInt("TOTP_SKEW", 2)),
			InvitationTTL:          getEnvAsDuration("INVITATION_TTL", 7*24*time.Hour),
			SecretsKey:             getEnv("TWO_FACTOR_ENCRYPTION_KEY", ""),
			BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Global:              loadTier("RATE_LIMIT_GLOBAL", 300, 15*time.Minute),
			Auth:                loadTier("RATE_LIMIT_AUTH", 5, 15*time.Minute),
			API:                 loadTier("RATE_LIMIT_API", 60, time.Minute),
			AuthenticatedGlobal: loadTier("RATE_LIMIT_AUTHENTICATED_GLOBAL", 1000, 15*time.Minute),
			AuthenticatedAPI:    loadTier("RATE_LIMIT_AUTHENTICATED_API", 120, time.Minute),
			ViolationThreshold:  getEnvAsInt("RATE_LIMIT_VIOLATION_THRESHOLD", 5),
			BlockDuration:       getEnvAsDuration("RATE_LIMIT_BLOCK_DURATION", time.Hour),
			SweepInterval:       getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Audit: AuditConfig{
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:  getEnvAsInt("AUDIT_WORKERS", 5),
			KafkaBrokers: getEnvAsSlice("AUDIT_KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("AUDIT_KAFKA_TOPIC", "repairdesk.audit"),
		},
		Notify: NotifyConfig{
			AsynqRedisAddr: getEnv("NOTIFY_REDIS_ADDR", ""),
			Queue:          getEnv("NOTIFY_QUEUE", "notifications"),
			InviteBaseURL:  getEnv("INVITE_BASE_URL", "http://localhost:5173/accept-invite"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StorageMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory storage is single-process and not allowed in production")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.IsProduction() && c.Auth.JWTSecret == DevJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	for name, tier := range map[string]TierConfig{
		"global":               c.RateLimit.Global,
		"auth":                 c.RateLimit.Auth,
		"api":                  c.RateLimit.API,
		"authenticated-global": c.RateLimit.AuthenticatedGlobal,
		"authenticated-api":    c.RateLimit.AuthenticatedAPI,
	} {
		if tier.Limit <= 0 || tier.Window <= 0 {
			return fmt.Errorf("rate limit tier %s must have a positive limit and window", name)
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "repairdesk")
	pool.Password = getEnv("DB_PASSWORD", "repairdesk")
	pool.Database = getEnv("DB_NAME", "repairdesk")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// loadAuditDatabaseConfig returns nil when DATABASE_URL_AUDIT is unset.
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func loadTier(prefix string, limit int, window time.Duration) TierConfig {
	return TierConfig{
		Limit:  getEnvAsInt(prefix+"_LIMIT", limit),
		Window: getEnvAsDuration(prefix+"_WINDOW", window),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
