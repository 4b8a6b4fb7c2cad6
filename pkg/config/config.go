package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Gate          GateConfig
	Services      ServicesConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig selects and tunes the store backend
type DatabaseConfig struct {
	Driver          string // postgres, sqlite3 or memory
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// GateConfig holds access gate and catalog settings
type GateConfig struct {
	ProxyTimeout      time.Duration
	IntegritySchedule string
	PlanCacheSize     int
	PlanCacheTTL      time.Duration
	SeedFile          string
}

// ServicesConfig holds credentials for the proxied services. A service whose
// required fields are empty is not wired.
type ServicesConfig struct {
	Stripe        StripeConfig
	Auth0         Auth0Config
	S3            S3Config
	Elasticsearch ElasticsearchConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
}

type StripeConfig struct {
	SecretKey string
	BaseURL   string
	Amount    int64
	Currency  string
}

type Auth0Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
}

type S3Config struct {
	Region       string
	Bucket       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type ElasticsearchConfig struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether the service has enough configuration to be wired.
func (c StripeConfig) Enabled() bool        { return c.SecretKey != "" }
func (c Auth0Config) Enabled() bool         { return c.Domain != "" && c.ClientID != "" }
func (c S3Config) Enabled() bool            { return c.Bucket != "" }
func (c ElasticsearchConfig) Enabled() bool { return len(c.Addresses) > 0 }
func (c KafkaConfig) Enabled() bool         { return len(c.Brokers) > 0 }
func (c RedisConfig) Enabled() bool         { return c.Addr != "" }

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. Variables from
// envFile are loaded first when it exists and never override the environment.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Gate:          loadGateConfig(),
		Services:      loadServicesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("GATEKEEPER_DB_DRIVER", "sqlite3"),
		DSN:             getEnv("GATEKEEPER_DB_DSN", "gatekeeper.db"),
		MaxOpenConns:    getEnvInt("GATEKEEPER_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("GATEKEEPER_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		Timeout:         getEnvDuration("GATEKEEPER_DB_TIMEOUT", 10*time.Second),
	}
}

func loadGateConfig() GateConfig {
	return GateConfig{
		ProxyTimeout:      getEnvDuration("GATEKEEPER_PROXY_TIMEOUT", 10*time.Second),
		IntegritySchedule: getEnv("GATEKEEPER_INTEGRITY_SCHEDULE", "@every 15m"),
		PlanCacheSize:     getEnvInt("GATEKEEPER_PLAN_CACHE_SIZE", 256),
		PlanCacheTTL:      getEnvDuration("GATEKEEPER_PLAN_CACHE_TTL", time.Minute),
		SeedFile:          getEnv("GATEKEEPER_SEED_FILE", ""),
	}
}

func loadServicesConfig() ServicesConfig {
	return ServicesConfig{
		Stripe: StripeConfig{
			SecretKey: getEnv("GATEKEEPER_STRIPE_SECRET_KEY", ""),
			BaseURL:   getEnv("GATEKEEPER_STRIPE_BASE_URL", ""),
			Amount:    getEnvInt64("GATEKEEPER_STRIPE_AMOUNT", 1000),
			Currency:  getEnv("GATEKEEPER_STRIPE_CURRENCY", "usd"),
		},
		Auth0: Auth0Config{
			Domain:       getEnv("GATEKEEPER_AUTH0_DOMAIN", ""),
			ClientID:     getEnv("GATEKEEPER_AUTH0_CLIENT_ID", ""),
			ClientSecret: getEnv("GATEKEEPER_AUTH0_CLIENT_SECRET", ""),
		},
		S3: S3Config{
			Region:       getEnv("GATEKEEPER_S3_REGION", "us-east-1"),
			Bucket:       getEnv("GATEKEEPER_S3_BUCKET", ""),
			Endpoint:     getEnv("GATEKEEPER_S3_ENDPOINT", ""),
			AccessKey:    getEnv("GATEKEEPER_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("GATEKEEPER_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("GATEKEEPER_S3_USE_PATH_STYLE", false),
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses: getEnvList("GATEKEEPER_ES_ADDRESSES"),
			Index:     getEnv("GATEKEEPER_ES_INDEX", "documents"),
			Username:  getEnv("GATEKEEPER_ES_USERNAME", ""),
			Password:  getEnv("GATEKEEPER_ES_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("GATEKEEPER_KAFKA_BROKERS"),
			Topic:   getEnv("GATEKEEPER_KAFKA_TOPIC", "gatekeeper-messages"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("GATEKEEPER_REDIS_ADDR", ""),
			Password: getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GATEKEEPER_REDIS_DB", 0),
		},
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("GATEKEEPER_LOG_LEVEL", "info"),
		LogFormat:          getEnv("GATEKEEPER_LOG_FORMAT", "json"),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres, sqlite3, or memory)", c.Database.Driver)
	}

	if c.Gate.ProxyTimeout <= 0 {
		return fmt.Errorf("proxy timeout must be positive")
	}
	if c.Gate.PlanCacheSize <= 0 {
		return fmt.Errorf("plan cache size must be positive")
	}

	if c.Services.Auth0.Enabled() && c.Services.Auth0.ClientSecret == "" {
		return fmt.Errorf("auth0 client secret is required when auth0 is configured")
	}
	if c.Services.Stripe.Enabled() && c.Services.Stripe.Amount <= 0 {
		return fmt.Errorf("stripe amount must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
