package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverBolt     = "bolt"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName      string
	Environment  string
	HTTP         HTTPConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Ledger       LedgerConfig
	Orchestrator OrchestratorConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Context      ContextConfig
	Logger       LoggerConfig
	Migrations   MigrationsConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnableMetrics bool
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig drives challenge sign-in and session tokens.
type AuthConfig struct {
	Secret          string
	Issuer          string
	ChallengePrefix string
	ChallengeWindow time.Duration
	SessionTTL      time.Duration
}

// LedgerConfig configures the in-process ledger the service runs against.
type LedgerConfig struct {
	// ProgramID is the base58 task program id; empty selects the built-in default.
	ProgramID     string
	BlockInterval time.Duration
	MaxAnchorAge  uint64
	Store         string
	StorePath     string
}

type OrchestratorConfig struct {
	PollInterval      time.Duration
	ConfirmTimeout    time.Duration
	PreparedTTL       time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

type RateLimitConfig struct {
	Enabled        bool
	RPS            float64
	Burst          int
	IdleTTL        time.Duration
	// TrustedProxies are IPs or CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string
}

// StorageConfig selects adapters for the session store and the transaction journal.
type StorageConfig struct {
	SessionDriver string
	JournalDriver string
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "task-ledger"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "8080"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "taskledger"),
			User:            getString("DB_USER", "taskledger"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			Issuer:          getString("JWT_ISSUER", "task-ledger"),
			ChallengePrefix: getString("AUTH_CHALLENGE_PREFIX", "Sign in to Task Ledger"),
			ChallengeWindow: getDuration("AUTH_CHALLENGE_WINDOW", 5*time.Minute),
			SessionTTL:      getDuration("AUTH_SESSION_TTL", 24*time.Hour),
		},
		Ledger: LedgerConfig{
			ProgramID:     os.Getenv("LEDGER_PROGRAM_ID"),
			BlockInterval: getDuration("LEDGER_BLOCK_INTERVAL", 400*time.Millisecond),
			MaxAnchorAge:  uint64(getInt("LEDGER_MAX_ANCHOR_AGE", 150)),
			Store:         getString("LEDGER_STORE", DriverBolt),
			StorePath:     getString("LEDGER_STORE_PATH", "./data/ledger.db"),
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:      getDuration("TX_POLL_INTERVAL", 500*time.Millisecond),
			ConfirmTimeout:    getDuration("TX_CONFIRM_TIMEOUT", 30*time.Second),
			PreparedTTL:       getDuration("TX_PREPARED_TTL", 10*time.Minute),
			ReconcileInterval: getDuration("TX_RECONCILE_INTERVAL", 30*time.Second),
			ReconcileBatch:    getInt("TX_RECONCILE_BATCH", 100),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getBool("RATE_LIMIT_ENABLED", true),
			RPS:            getFloat("RATE_LIMIT_RPS", 10),
			Burst:          getInt("RATE_LIMIT_BURST", 20),
			IdleTTL:        getDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),
			TrustedProxies: getList("RATE_LIMIT_TRUSTED_PROXIES"),
		},
		Storage: StorageConfig{
			SessionDriver: getString("SESSION_DRIVER", DriverRedis),
			JournalDriver: getString("JOURNAL_DRIVER", DriverPostgres),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.SessionDriver {
	case DriverRedis, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("SESSION_DRIVER: unsupported driver %q", c.Storage.SessionDriver))
	}
	switch c.Storage.JournalDriver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("JOURNAL_DRIVER: unsupported driver %q", c.Storage.JournalDriver))
	}
	switch c.Ledger.Store {
	case DriverBolt, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_STORE: unsupported store %q", c.Ledger.Store))
	}
	if c.Auth.Secret == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.Auth.ChallengeWindow <= 0 {
		errs = append(errs, errors.New("AUTH_CHALLENGE_WINDOW must be positive"))
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_TRUSTED_PROXIES: %q is neither an IP nor a CIDR", proxy))
		}
	}
	if c.Orchestrator.PollInterval <= 0 || c.Orchestrator.ConfirmTimeout < c.Orchestrator.PollInterval {
		errs = append(errs, errors.New("TX_CONFIRM_TIMEOUT must be at least TX_POLL_INTERVAL"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validProxy(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
