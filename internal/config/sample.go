package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sample returns a starter configuration with placeholder targets and rules.
func Sample() *Config {
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{Path: "sentinel.db", RetentionDays: 90},
		Collection: CollectionConfig{
			LogTypes:        []string{"System", "Security", "Application"},
			Lookback:        time.Hour,
			Overlap:         2 * time.Minute,
			Interval:        5 * time.Minute,
			Concurrency:     10,
			MaxEvents:       10000,
			CallTimeout:     2 * time.Minute,
			CycleTimeout:    10 * time.Minute,
			DedupeCacheSize: 50000,
			Retry:           RetryConfig{MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Minute},
			StoreRetry:      RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second},
		},
		Targets: []TargetConfig{
			{Name: "dc01", Address: "192.168.1.100", Port: 5985, Auth: "ntlm", Timeout: 30 * time.Second},
		},
		Alerts: AlertsConfig{
			Enabled:        true,
			MaxTrackedKeys: 5000,
			Rules: []RuleConfig{
				{
					Name:      "Failed Login Attempts",
					EventIDs:  []int{4625},
					GroupBy:   "host",
					Threshold: 5,
					Window:    5 * time.Minute,
					Actions: []ActionConfig{
						{Type: "webhook", URL: "https://discord.com/api/webhooks/YOUR_WEBHOOK", TypeHint: "discord"},
					},
				},
				{
					Name:      "Privilege Escalation",
					EventIDs:  []int{4672, 4673},
					Threshold: 1,
					Window:    time.Minute,
					Actions: []ActionConfig{
						{Type: "webhook", URL: "https://hooks.slack.com/services/YOUR_WEBHOOK", TypeHint: "slack"},
					},
				},
				{
					Name:      "Account Lockout",
					EventIDs:  []int{4740},
					GroupBy:   "host_user",
					Threshold: 1,
					Window:    time.Minute,
					Actions: []ActionConfig{
						{Type: "remediation", Script: "net user $USERNAME /unlock"},
					},
				},
				{
					Name:      "Critical System Errors",
					Severity:  "critical",
					Threshold: 1,
					Window:    time.Minute,
					Actions: []ActionConfig{
						{Type: "webhook", URL: "https://example.invalid/notify"},
					},
				},
			},
		},
		Actions: ActionsConfig{
			RemediationEnabled: false,
			WebhookTimeout:     10 * time.Second,
			WebhookRetry:       RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
			RatePerMinute:      30,
		},
		Explain: ExplainConfig{URL: "http://localhost:11434/api/generate", Model: "tinyllama", Timeout: 30 * time.Second},
		Output:  OutputConfig{AuditLogPath: "sentinel-audit.jsonl"},
		API:     APIConfig{Listen: ":8080"},
		NATS:    NATSConfig{SubjectPrefix: "sentinel"},
	}
}

// WriteSample renders Sample() as YAML to path. Existing files are not overwritten.
func WriteSample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(Sample()); err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return enc.Close()
}
