package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvProduction is the environment name that turns on the admin-token gate.
const EnvProduction = "production"

// Config holds all configuration for the tracking service
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	CORS     CORSConfig     `yaml:"cors"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	SQS      SQSConfig      `yaml:"sqs"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int    `yaml:"port"`
	Host                string `yaml:"host"`
	Environment         string `yaml:"environment"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return c.GetHost() + ":" + strconv.Itoa(c.Port)
}

// IsProduction reports whether the restricted runtime mode is active.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// ReadTimeout returns the configured read timeout as a duration
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the configured write timeout as a duration
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration
func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// TrackingConfig holds event store settings
type TrackingConfig struct {
	DataDir             string `yaml:"data_dir"`
	SentLog             string `yaml:"sent_log"`
	OpenLog             string `yaml:"open_log"`
	AdminToken          string `yaml:"admin_token"`
	RecentWindowHours   int    `yaml:"recent_window_hours"`
	ReportRecentLimit   int    `yaml:"report_recent_limit"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// SentLogPath returns the sent log location, relative names resolved under DataDir.
func (c TrackingConfig) SentLogPath() string {
	return resolve(c.DataDir, c.SentLog)
}

// OpenLogPath returns the open log location, relative names resolved under DataDir.
func (c TrackingConfig) OpenLogPath() string {
	return resolve(c.DataDir, c.OpenLog)
}

// RecentWindow returns the default recent-opens window as a duration
func (c TrackingConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowHours) * time.Hour
}

// WriteTimeout returns the per-append deadline as a duration
func (c TrackingConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// CORSConfig holds allowed origins for browser callers
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact returns whether PII redaction is on (default true).
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RedisConfig holds the optional Redis stream publisher settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// SQSConfig holds the optional SQS publisher settings
type SQSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// ArchiveConfig holds the optional Postgres archive settings
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
	Table       string `yaml:"table"`
}

// Load reads and parses the configuration file. A missing file is not an
// error: defaults are returned so the service runs with env vars alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 5
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 10
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 120
	}
	if cfg.Tracking.DataDir == "" {
		cfg.Tracking.DataDir = "./data"
	}
	if cfg.Tracking.SentLog == "" {
		cfg.Tracking.SentLog = "sent.jsonl"
	}
	if cfg.Tracking.OpenLog == "" {
		cfg.Tracking.OpenLog = "opens.jsonl"
	}
	if cfg.Tracking.RecentWindowHours == 0 {
		cfg.Tracking.RecentWindowHours = 24
	}
	if cfg.Tracking.ReportRecentLimit == 0 {
		cfg.Tracking.ReportRecentLimit = 10
	}
	if cfg.Tracking.WriteTimeoutSeconds == 0 {
		cfg.Tracking.WriteTimeoutSeconds = 5
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = "tracking:events"
	}
	if cfg.Redis.MaxLen == 0 {
		cfg.Redis.MaxLen = 100000
	}
	if cfg.SQS.Region == "" {
		cfg.SQS.Region = "us-west-2"
	}
	if cfg.Archive.Table == "" {
		cfg.Archive.Table = "tracking_events"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Tracking.AdminToken = v
	}
	if v := os.Getenv("TRACKING_DATA_DIR"); v != "" {
		cfg.Tracking.DataDir = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.SQS.QueueURL = v
		cfg.SQS.Enabled = true
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Archive.DatabaseURL = v
		cfg.Archive.Enabled = true
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
