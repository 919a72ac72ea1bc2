package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config mirrors the YAML file. Build turns it into domain types.
type Config struct {
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Collection CollectionConfig `mapstructure:"collection" yaml:"collection"`
	Targets    []TargetConfig   `mapstructure:"targets" yaml:"targets"`
	Alerts     AlertsConfig     `mapstructure:"alerts" yaml:"alerts"`
	Actions    ActionsConfig    `mapstructure:"actions" yaml:"actions"`
	Explain    ExplainConfig    `mapstructure:"explain" yaml:"explain"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Spool      SpoolConfig      `mapstructure:"spool" yaml:"spool"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// CollectionConfig drives the collection engine
type CollectionConfig struct {
	LogTypes        []string      `mapstructure:"log_types" yaml:"log_types"`
	Lookback        time.Duration `mapstructure:"lookback" yaml:"lookback"`
	Overlap         time.Duration `mapstructure:"overlap" yaml:"overlap"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxEvents       int           `mapstructure:"max_events" yaml:"max_events"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
	DedupeCacheSize int           `mapstructure:"dedupe_cache_size" yaml:"dedupe_cache_size"`
	Retry           RetryConfig   `mapstructure:"retry" yaml:"retry"`
	StoreRetry      RetryConfig   `mapstructure:"store_retry" yaml:"store_retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// TargetConfig is one remote host. Credentials here are a last resort;
// prefer SENTINEL_<REF>_USERNAME / SENTINEL_<REF>_PASSWORD.
type TargetConfig struct {
	Name          string            `mapstructure:"name" yaml:"name,omitempty"`
	Address       string            `mapstructure:"address" yaml:"address"`
	Port          int               `mapstructure:"port" yaml:"port,omitempty"`
	TLS           bool              `mapstructure:"tls" yaml:"tls,omitempty"`
	Insecure      bool              `mapstructure:"insecure" yaml:"insecure,omitempty"`
	Auth          string            `mapstructure:"auth" yaml:"auth,omitempty"`
	CredentialRef string            `mapstructure:"credential_ref" yaml:"credential_ref,omitempty"`
	Lookback      time.Duration     `mapstructure:"lookback" yaml:"lookback,omitempty"`
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Credentials   *CredentialConfig `mapstructure:"credentials" yaml:"credentials,omitempty"`
}

type CredentialConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type AlertsConfig struct {
	Enabled        bool         `mapstructure:"enabled" yaml:"enabled"`
	MaxTrackedKeys int          `mapstructure:"max_tracked_keys" yaml:"max_tracked_keys"`
	Rules          []RuleConfig `mapstructure:"rules" yaml:"rules"`
}

type RuleConfig struct {
	Name      string         `mapstructure:"name" yaml:"name"`
	EventIDs  []int          `mapstructure:"event_ids" yaml:"event_ids,omitempty"`
	Severity  string         `mapstructure:"severity" yaml:"severity,omitempty"`
	LogTypes  []string       `mapstructure:"log_types" yaml:"log_types,omitempty"`
	GroupBy   string         `mapstructure:"group_by" yaml:"group_by,omitempty"`
	Threshold int            `mapstructure:"threshold" yaml:"threshold"`
	Window    time.Duration  `mapstructure:"window" yaml:"window,omitempty"`
	Actions   []ActionConfig `mapstructure:"actions" yaml:"actions"`
}

// ActionConfig is either {type: webhook, url, type_hint} or {type: remediation, script}.
type ActionConfig struct {
	Type     string `mapstructure:"type" yaml:"type"`
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	TypeHint string `mapstructure:"type_hint" yaml:"type_hint,omitempty"`
	Script   string `mapstructure:"script" yaml:"script,omitempty"`
}

type ActionsConfig struct {
	RemediationEnabled bool          `mapstructure:"remediation_enabled" yaml:"remediation_enabled"`
	ProtectedHosts     []string      `mapstructure:"protected_hosts" yaml:"protected_hosts,omitempty"`
	WebhookTimeout     time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
	WebhookRetry       RetryConfig   `mapstructure:"webhook_retry" yaml:"webhook_retry"`
	RatePerMinute      int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

type ExplainConfig struct {
	EnableLLM bool          `mapstructure:"enable_llm" yaml:"enable_llm"`
	URL       string        `mapstructure:"url" yaml:"url"`
	Model     string        `mapstructure:"model" yaml:"model"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type OutputConfig struct {
	AuditLogPath string `mapstructure:"audit_log_path" yaml:"audit_log_path"`
}

type SpoolConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	Poll bool   `mapstructure:"poll" yaml:"poll"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("database.path", "sentinel.db")
	v.SetDefault("database.retention_days", 90)

	v.SetDefault("collection.log_types", []string{"System", "Security", "Application"})
	v.SetDefault("collection.lookback", "1h")
	v.SetDefault("collection.overlap", "2m")
	v.SetDefault("collection.interval", "5m")
	v.SetDefault("collection.concurrency", 10)
	v.SetDefault("collection.max_events", 10000)
	v.SetDefault("collection.call_timeout", "2m")
	v.SetDefault("collection.cycle_timeout", "10m")
	v.SetDefault("collection.dedupe_cache_size", 50000)
	v.SetDefault("collection.retry.max_attempts", 3)
	v.SetDefault("collection.retry.base_delay", "5s")
	v.SetDefault("collection.retry.multiplier", 2.0)
	v.SetDefault("collection.retry.max_delay", "1m")
	v.SetDefault("collection.store_retry.max_attempts", 3)
	v.SetDefault("collection.store_retry.base_delay", "1s")
	v.SetDefault("collection.store_retry.multiplier", 2.0)
	v.SetDefault("collection.store_retry.max_delay", "10s")

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.max_tracked_keys", 5000)

	v.SetDefault("actions.remediation_enabled", false)
	v.SetDefault("actions.webhook_timeout", "10s")
	v.SetDefault("actions.webhook_retry.max_attempts", 3)
	v.SetDefault("actions.webhook_retry.base_delay", "2s")
	v.SetDefault("actions.webhook_retry.multiplier", 2.0)
	v.SetDefault("actions.webhook_retry.max_delay", "30s")
	v.SetDefault("actions.rate_per_minute", 30)

	v.SetDefault("explain.enable_llm", false)
	v.SetDefault("explain.url", "http://localhost:11434/api/generate")
	v.SetDefault("explain.model", "tinyllama")
	v.SetDefault("explain.timeout", "30s")

	v.SetDefault("output.audit_log_path", "sentinel-audit.jsonl")
	v.SetDefault("spool.path", "")
	v.SetDefault("spool.poll", false)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "sentinel")
}

// LoadConfig reads path (or config.yaml from . and /etc/sentinel/ when path is
// empty), applies defaults and SENTINEL_* environment overrides, and validates.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentinel/")
	}

	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Warn().Msg("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
