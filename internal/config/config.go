// Package config loads the provenance service's configuration from an
// optional YAML file layered with environment variable overrides, following
// the same file-then-env pattern used throughout the service_layer corpus.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host             string   `yaml:"host" env:"SERVER_HOST"`
	Port             int      `yaml:"port" env:"SERVER_PORT"`
	ShutdownSeconds  int      `yaml:"shutdown_seconds" env:"SERVER_SHUTDOWN_SECONDS"`
	RequireAPIKey    bool     `yaml:"require_api_key" env:"REQUIRE_API_KEY"`
	APIKeys          []string `yaml:"api_keys" env:"API_KEYS"`
	AllowedOrigins   []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	AllowCredentials bool     `yaml:"allow_credentials" env:"ALLOW_CREDENTIALS"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	URL             string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME_SECONDS"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// CacheConfig controls the optional shared cache (Redis) used by the
// rate-limit/spend-guard layer.
type CacheConfig struct {
	URL string `yaml:"url" env:"CACHE_URL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// BucketConfig is one rate-limit bucket's fixed-window parameters.
type BucketConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// RateLimitConfig holds every bucket plus the daily spend cap and cost table.
type RateLimitConfig struct {
	Buckets        map[string]BucketConfig `yaml:"buckets"`
	DailySpendCap  int                     `yaml:"daily_spend_cap_points" env:"DAILY_SPEND_CAP_POINTS"`
	CostPerCall    map[string]int          `yaml:"cost_per_call"`
}

// ProviderConfig is one external consensus provider.
type ProviderConfig struct {
	Name          string  `yaml:"name"`
	Weight        float64 `yaml:"weight"`
	Endpoint      string  `yaml:"endpoint"`
	CredentialRef string  `yaml:"credential_ref"`
}

// ConsensusConfig controls the consensus engine.
type ConsensusConfig struct {
	Enabled               bool               `yaml:"enabled" env:"CONSENSUS_ENABLED"`
	ProviderTimeoutSeconds int               `yaml:"provider_timeout_seconds" env:"PROVIDER_TIMEOUT_SECONDS"`
	ProviderRetryAttempts int                `yaml:"provider_retry_attempts" env:"PROVIDER_RETRY_ATTEMPTS"`
	Providers             []ProviderConfig   `yaml:"providers"`
	Thresholds            map[string]float64 `yaml:"thresholds"`
	InternalWeight        float64            `yaml:"internal_weight"`
}

// SchedulerConfig controls the recurring-collection scheduler.
type SchedulerConfig struct {
	Enabled          bool     `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	TickSeconds      int      `yaml:"tick_seconds" env:"SCHEDULER_TICK_SECONDS"`
	MonthlyRequestCap int     `yaml:"monthly_request_cap" env:"SCHEDULER_MONTHLY_REQUEST_CAP"`
	KillSwitchOnCap  bool     `yaml:"kill_switch_on_cap" env:"SCHEDULER_KILL_SWITCH_ON_CAP"`
	MaxRetrySeconds  int      `yaml:"max_retry_seconds" env:"SCHEDULER_MAX_RETRY_SECONDS"`
	PageCap          int      `yaml:"page_cap" env:"SCHEDULER_PAGE_CAP"`
	Handles          []JobConfig `yaml:"handles"`
	UsageFile        string   `yaml:"usage_file" env:"SCHEDULER_USAGE_FILE"`
}

// JobConfig describes one registered recurring job.
type JobConfig struct {
	Handle     string `yaml:"handle"`
	Interval   string `yaml:"interval"`
	WindowDays int    `yaml:"window_days"`
	MaxPosts   int    `yaml:"max_posts"`
	Query      string `yaml:"query"`
}

// WebhookConfig controls the durable webhook dispatcher.
type WebhookConfig struct {
	URLs               []string `yaml:"urls" env:"WEBHOOK_URLS"`
	MaxAttempts        int      `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS"`
	BaseBackoffSeconds int      `yaml:"base_backoff_seconds" env:"WEBHOOK_BASE_BACKOFF_SECONDS"`
	MaxBackoffSeconds  int      `yaml:"max_backoff_seconds" env:"WEBHOOK_MAX_BACKOFF_SECONDS"`
	QueueFile          string   `yaml:"queue_file" env:"WEBHOOK_QUEUE_FILE"`
	DeadLetterFile     string   `yaml:"dead_letter_file" env:"WEBHOOK_DEAD_LETTER_FILE"`
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds" env:"WEBHOOK_DRAIN_INTERVAL_SECONDS"`
	DeliveryTimeoutSeconds int  `yaml:"delivery_timeout_seconds" env:"WEBHOOK_DELIVERY_TIMEOUT_SECONDS"`
}

// AuditConfig controls the audit event pipeline.
type AuditConfig struct {
	Enabled         bool `yaml:"enabled" env:"AUDIT_ENABLED"`
	RingCapacity    int  `yaml:"ring_capacity" env:"AUDIT_RING_CAPACITY"`
	LogHTTPRequests bool `yaml:"log_http_requests" env:"AUDIT_LOG_HTTP_REQUESTS"`
}

// AnalysisConfig controls the analysis store.
type AnalysisConfig struct {
	DedupWindowSeconds int `yaml:"dedup_window_seconds" env:"ANALYSIS_DEDUP_WINDOW_SECONDS"`
	DefaultTTLDays     int `yaml:"default_ttl_days" env:"ANALYSIS_DEFAULT_TTL_DAYS"`
	ExportRowCap       int `yaml:"export_row_cap" env:"ANALYSIS_EXPORT_ROW_CAP"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Audit     AuditConfig     `yaml:"audit"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
}

// New returns a Config populated with every default named in spec §6.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownSeconds: 15,
			RequireAPIKey:   false,
			MaxBodyBytes:    160 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			Buckets: map[string]BucketConfig{
				"text":    {Requests: 100, WindowSeconds: 60},
				"media":   {Requests: 40, WindowSeconds: 60},
				"batch":   {Requests: 20, WindowSeconds: 60},
				"intel":   {Requests: 20, WindowSeconds: 60},
				"default": {Requests: 60, WindowSeconds: 60},
			},
			DailySpendCap: 1000,
			CostPerCall: map[string]int{
				"text": 1, "image": 3, "audio": 4, "video": 6, "batch": 5, "intel": 8,
			},
		},
		Consensus: ConsensusConfig{
			Enabled:                true,
			ProviderTimeoutSeconds: 8,
			ProviderRetryAttempts:  3,
			InternalWeight:         1.0,
			Thresholds: map[string]float64{
				"text": 0.5, "image": 0.5, "audio": 0.5, "video": 0.5,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:           false,
			TickSeconds:       30,
			KillSwitchOnCap:   true,
			MaxRetrySeconds:   3600,
			PageCap:           10,
			UsageFile:         "data/scheduler_usage.json",
		},
		Webhook: WebhookConfig{
			MaxAttempts:            5,
			BaseBackoffSeconds:     2,
			MaxBackoffSeconds:      300,
			QueueFile:              "data/webhook_queue.json",
			DeadLetterFile:         "data/webhook_dead_letter.jsonl",
			DrainIntervalSeconds:   5,
			DeliveryTimeoutSeconds: 10,
		},
		Audit: AuditConfig{
			Enabled:         true,
			RingCapacity:    20000,
			LogHTTPRequests: true,
		},
		Analysis: AnalysisConfig{
			DedupWindowSeconds: 300,
			DefaultTTLDays:     90,
			ExportRowCap:       10000,
		},
	}
}

// Load loads configuration layering a YAML file (if present) under
// environment variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Bucket returns the configured bucket, falling back to "default".
func (c *Config) Bucket(name string) BucketConfig {
	if b, ok := c.RateLimit.Buckets[name]; ok {
		return b
	}
	return c.RateLimit.Buckets["default"]
}

// Cost returns the spend-point cost for an operation, defaulting to 1.
func (c *Config) Cost(operation string) int {
	if v, ok := c.RateLimit.CostPerCall[operation]; ok {
		return v
	}
	return 1
}

// Threshold returns the decision threshold for a modality, defaulting to 0.5.
func (c *Config) Threshold(modality string) float64 {
	if v, ok := c.Consensus.Thresholds[modality]; ok {
		return v
	}
	return 0.5
}
