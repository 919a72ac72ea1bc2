package config

import (
	"errors"
	"fmt"
	"strings"

	"headless-sentinel/internal/types"
)

// Validate checks the parsed config and applies per-item defaults that viper
// cannot express (list elements). Every problem is reported, joined.
func Validate(cfg *Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Database.Path == "" {
		bad("database.path is required")
	}
	if cfg.Database.RetentionDays < 0 {
		bad("database.retention_days must be >= 0")
	}

	c := &cfg.Collection
	if len(c.LogTypes) == 0 {
		bad("collection.log_types must not be empty")
	}
	if c.Concurrency < 1 {
		bad("collection.concurrency must be >= 1")
	}
	if c.Lookback <= 0 {
		bad("collection.lookback must be positive")
	}
	if c.Overlap < 0 {
		bad("collection.overlap must be >= 0")
	}
	if c.CallTimeout <= 0 {
		bad("collection.call_timeout must be positive")
	}
	if c.CycleTimeout > 0 && c.CycleTimeout < c.CallTimeout {
		bad("collection.cycle_timeout must not be shorter than call_timeout")
	}
	if c.MaxEvents < 1 {
		bad("collection.max_events must be >= 1")
	}
	validateRetry("collection.retry", c.Retry, bad)
	validateRetry("collection.store_retry", c.StoreRetry, bad)
	validateRetry("actions.webhook_retry", cfg.Actions.WebhookRetry, bad)

	seen := make(map[string]bool)
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Address == "" {
			bad("targets[%d].address is required", i)
			continue
		}
		if t.Name == "" {
			t.Name = t.Address
		}
		if seen[t.Name] {
			bad("targets[%d]: duplicate target %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Port == 0 {
			t.Port = 5985
			if t.TLS {
				t.Port = 5986
			}
		}
		if t.Port < 1 || t.Port > 65535 {
			bad("targets[%d].port %d out of range", i, t.Port)
		}
		switch strings.ToLower(t.Auth) {
		case "":
			t.Auth = "ntlm"
		case "ntlm", "basic":
			t.Auth = strings.ToLower(t.Auth)
		default:
			bad("targets[%d].auth %q must be ntlm or basic", i, t.Auth)
		}
		if t.CredentialRef == "" {
			t.CredentialRef = DefaultCredentialRef(t.Address)
		}
		if t.Lookback < 0 || t.Timeout < 0 {
			bad("targets[%d]: lookback and timeout must be >= 0", i)
		}
	}

	names := make(map[string]bool)
	for i := range cfg.Alerts.Rules {
		r := &cfg.Alerts.Rules[i]
		if r.Name == "" {
			bad("alerts.rules[%d].name is required", i)
		} else if names[r.Name] {
			bad("alerts.rules[%d]: duplicate rule %q", i, r.Name)
		}
		names[r.Name] = true

		if len(r.EventIDs) == 0 && r.Severity == "" {
			bad("rule %q: needs event_ids or severity", r.Name)
		}
		if r.Severity != "" {
			if _, err := types.ParseSeverity(r.Severity); err != nil {
				bad("rule %q: %v", r.Name, err)
			}
		}
		if _, err := types.ParseGroupBy(r.GroupBy); err != nil {
			bad("rule %q: %v", r.Name, err)
		}
		if r.Threshold < 1 {
			bad("rule %q: threshold must be >= 1", r.Name)
		}
		if r.Window == 0 {
			r.Window = DefaultRuleWindow
		}
		if r.Window < 0 {
			bad("rule %q: window must be positive", r.Name)
		}
		for j, a := range r.Actions {
			switch strings.ToLower(a.Type) {
			case "webhook":
				if a.URL == "" {
					bad("rule %q action %d: webhook needs url", r.Name, j)
				}
			case "remediation":
				if strings.TrimSpace(a.Script) == "" {
					bad("rule %q action %d: remediation needs script", r.Name, j)
				}
			default:
				bad("rule %q action %d: unknown type %q", r.Name, j, a.Type)
			}
		}
	}

	if cfg.Explain.EnableLLM && cfg.Explain.URL == "" {
		bad("explain.url is required when enable_llm is set")
	}

	return errors.Join(errs...)
}

func validateRetry(name string, r RetryConfig, bad func(string, ...any)) {
	if r.MaxAttempts < 1 {
		bad("%s.max_attempts must be >= 1", name)
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		bad("%s: delays must be >= 0", name)
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		bad("%s.multiplier must be >= 1", name)
	}
}
