package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Mail          MailConfig          `yaml:"mail"`
	Web           WebConfig           `yaml:"web"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds the session store and pub/sub backend settings
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// PostgresConfig holds the user store settings
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// RealtimeConfig holds websocket and pub/sub settings
type RealtimeConfig struct {
	// MultiNode selects the Redis-backed pub/sub bridge so every node
	// sees every published message. Fixed at startup.
	MultiNode        bool          `yaml:"multi_node"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
}

// MailConfig holds outbound email settings
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebConfig holds the server-rendered web surface settings
type WebConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TemplateDir    string        `yaml:"template_dir"`
	StaticDir      string        `yaml:"static_dir"`
	DevMode        bool          `yaml:"dev_mode"`
	CookieName     string        `yaml:"cookie_name"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	LoginRoute     string        `yaml:"login_route"`
	AuditLogPath   string        `yaml:"audit_log_path"`
	VerifyTokenTTL time.Duration `yaml:"verify_token_ttl"`
	ResetTokenTTL  time.Duration `yaml:"reset_token_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379",
			DB:         0,
			MaxRetries: 3,
			PoolSize:   10,
		},
		Postgres: PostgresConfig{
			URL:      "postgres://localhost/kindred?sslmode=disable",
			MaxConns: 10,
		},
		Realtime: RealtimeConfig{
			MultiNode:        false,
			ChallengeTimeout: 5 * time.Second,
			WriteTimeout:     10 * time.Second,
			MaxMessageSize:   8192,
		},
		Mail: MailConfig{
			Enabled:  false,
			SMTPHost: "localhost",
			SMTPPort: 25,
			From:     "no-reply@kindred.local",
		},
		Web: WebConfig{
			BaseURL:        "http://localhost:8080",
			TemplateDir:    "pkg/web/views",
			StaticDir:      "pkg/web/static",
			DevMode:        false,
			CookieName:     "kindred_session",
			CookieSecure:   false,
			SessionTTL:     7 * 24 * time.Hour,
			LoginRoute:     "/login",
			AuditLogPath:   "",
			VerifyTokenTTL: 48 * time.Hour,
			ResetTokenTTL:  2 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "kindred",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by KINDRED_CONFIG, and environment variable overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("KINDRED_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Server.Host = getEnv("KINDRED_HOST", c.Server.Host)
	c.Server.Port = getEnv("KINDRED_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("KINDRED_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("KINDRED_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("KINDRED_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("KINDRED_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	// Redis
	c.Redis.URL = getEnv("KINDRED_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("KINDRED_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("KINDRED_REDIS_DB", c.Redis.DB)
	c.Redis.MaxRetries = getEnvInt("KINDRED_REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.PoolSize = getEnvInt("KINDRED_REDIS_POOL_SIZE", c.Redis.PoolSize)

	// Postgres
	c.Postgres.URL = getEnv("KINDRED_POSTGRES_URL", c.Postgres.URL)
	c.Postgres.MaxConns = getEnvInt("KINDRED_POSTGRES_MAX_CONNS", c.Postgres.MaxConns)

	// Realtime
	c.Realtime.MultiNode = getEnvBool("KINDRED_MULTI_NODE", c.Realtime.MultiNode)
	c.Realtime.ChallengeTimeout = getEnvDuration("KINDRED_CHALLENGE_TIMEOUT", c.Realtime.ChallengeTimeout)
	c.Realtime.WriteTimeout = getEnvDuration("KINDRED_WS_WRITE_TIMEOUT", c.Realtime.WriteTimeout)

	// Mail
	c.Mail.Enabled = getEnvBool("KINDRED_MAIL_ENABLED", c.Mail.Enabled)
	c.Mail.SMTPHost = getEnv("KINDRED_SMTP_HOST", c.Mail.SMTPHost)
	c.Mail.SMTPPort = getEnvInt("KINDRED_SMTP_PORT", c.Mail.SMTPPort)
	c.Mail.Username = getEnv("KINDRED_SMTP_USERNAME", c.Mail.Username)
	c.Mail.Password = getEnv("KINDRED_SMTP_PASSWORD", c.Mail.Password)
	c.Mail.From = getEnv("KINDRED_MAIL_FROM", c.Mail.From)

	// Web
	c.Web.BaseURL = getEnv("KINDRED_BASE_URL", c.Web.BaseURL)
	c.Web.TemplateDir = getEnv("KINDRED_TEMPLATE_DIR", c.Web.TemplateDir)
	c.Web.StaticDir = getEnv("KINDRED_STATIC_DIR", c.Web.StaticDir)
	c.Web.DevMode = getEnvBool("KINDRED_DEV_MODE", c.Web.DevMode)
	c.Web.CookieName = getEnv("KINDRED_COOKIE_NAME", c.Web.CookieName)
	c.Web.CookieSecure = getEnvBool("KINDRED_COOKIE_SECURE", c.Web.CookieSecure)
	c.Web.SessionTTL = getEnvDuration("KINDRED_SESSION_TTL", c.Web.SessionTTL)
	c.Web.AuditLogPath = getEnv("KINDRED_AUDIT_LOG", c.Web.AuditLogPath)

	// Observability
	c.Observability.LogLevel = getEnv("KINDRED_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("KINDRED_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("KINDRED_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("KINDRED_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("KINDRED_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("KINDRED_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("KINDRED_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Realtime.ChallengeTimeout <= 0 {
		return fmt.Errorf("challenge timeout must be positive")
	}
	if c.Web.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Mail.Enabled {
		if c.Mail.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when mail is enabled")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail from address is required when mail is enabled")
		}
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

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
