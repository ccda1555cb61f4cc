package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported bus backends.
const (
	BusMemory = "memory"
	BusAWS    = "aws"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	HTTPAddr               string        `mapstructure:"http_addr"`
	APIKey                 string        `mapstructure:"api_key"`
	ShutdownTimeoutSeconds int64         `mapstructure:"shutdown_timeout_seconds"`
	ShutdownTimeout        time.Duration `mapstructure:"-"`

	TopologyFile string `mapstructure:"topology_file"`
	SinksFile    string `mapstructure:"sinks_file"`

	BusBackend         string `mapstructure:"bus_backend"`
	AWSRegion          string `mapstructure:"aws_region"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`

	EnumerateIntervalSeconds int64         `mapstructure:"enumerate_interval"`
	EnumerateInterval        time.Duration `mapstructure:"-"`
	EnumeratePageSize        int           `mapstructure:"enumerate_page_size"`

	WorkersPerQueue       int           `mapstructure:"workers_per_queue"`
	MessageTimeoutSeconds int64         `mapstructure:"message_timeout_seconds"`
	MessageTimeout        time.Duration `mapstructure:"-"`

	BBoltPath             string        `mapstructure:"bbolt_path"`
	LedgerTTLSeconds      int64         `mapstructure:"ledger_ttl_seconds"`
	LedgerCleanupSeconds  int64         `mapstructure:"ledger_cleanup_interval_seconds"`
	LedgerTTL             time.Duration `mapstructure:"-"`
	LedgerCleanupInterval time.Duration `mapstructure:"-"`

	PortalBaseURL        string        `mapstructure:"portal_base_url"`
	PortalTimeoutSeconds int64         `mapstructure:"portal_timeout_seconds"`
	PortalTimeout        time.Duration `mapstructure:"-"`
	PortalRateLimit      float64       `mapstructure:"portal_rate_limit"`
	PortalBurst          int           `mapstructure:"portal_burst"`

	TrackerBaseURL        string        `mapstructure:"tracker_base_url"`
	TrackerTimeoutSeconds int64         `mapstructure:"tracker_timeout_seconds"`
	TrackerTimeout        time.Duration `mapstructure:"-"`

	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	SenderEmail    string `mapstructure:"sender_email"`
	SenderPassword string `mapstructure:"sender_password"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "campus-courier")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("shutdown_timeout_seconds", 15)
	v.SetDefault("topology_file", "")
	v.SetDefault("sinks_file", "")
	v.SetDefault("bus_backend", BusMemory)
	v.SetDefault("aws_region", "eu-central-1")
	v.SetDefault("enumerate_interval", 3600) // seconds
	v.SetDefault("enumerate_page_size", 100)
	v.SetDefault("workers_per_queue", 2)
	v.SetDefault("message_timeout_seconds", 60)
	v.SetDefault("bbolt_path", "./data/courier.db")
	v.SetDefault("ledger_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("ledger_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("portal_base_url", "")
	v.SetDefault("portal_timeout_seconds", 30)
	v.SetDefault("portal_rate_limit", 2.0)
	v.SetDefault("portal_burst", 4)
	v.SetDefault("tracker_base_url", "https://api.todoist.com/rest/v2")
	v.SetDefault("tracker_timeout_seconds", 10)
	v.SetDefault("smtp_host", "smtp.gmail.com")
	v.SetDefault("smtp_port", 587)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.BusBackend != BusMemory && cfg.BusBackend != BusAWS {
		return nil, fmt.Errorf("unsupported bus_backend %q", cfg.BusBackend)
	}
	if cfg.EnumerateIntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid enumerate_interval (must be positive seconds)")
	}
	if cfg.EnumeratePageSize <= 0 {
		return nil, fmt.Errorf("invalid enumerate_page_size (must be positive)")
	}
	if cfg.WorkersPerQueue <= 0 {
		return nil, fmt.Errorf("invalid workers_per_queue (must be positive)")
	}
	if cfg.MessageTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid message_timeout_seconds (must be positive seconds)")
	}
	if cfg.LedgerTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid ledger_ttl_seconds (must be positive seconds)")
	}
	if cfg.LedgerCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid ledger_cleanup_interval_seconds (must be positive seconds)")
	}
	if cfg.ShutdownTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid shutdown_timeout_seconds (must be positive seconds)")
	}

	cfg.EnumerateInterval = time.Duration(cfg.EnumerateIntervalSeconds) * time.Second
	cfg.MessageTimeout = time.Duration(cfg.MessageTimeoutSeconds) * time.Second
	cfg.LedgerTTL = time.Duration(cfg.LedgerTTLSeconds) * time.Second
	cfg.LedgerCleanupInterval = time.Duration(cfg.LedgerCleanupSeconds) * time.Second
	cfg.ShutdownTimeout = time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	cfg.PortalTimeout = time.Duration(cfg.PortalTimeoutSeconds) * time.Second
	cfg.TrackerTimeout = time.Duration(cfg.TrackerTimeoutSeconds) * time.Second

	return &cfg, nil
}
