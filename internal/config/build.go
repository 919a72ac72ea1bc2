package config

import (
	"strings"
	"time"

	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"
)

// DefaultRuleWindow applies to rules that omit window.
const DefaultRuleWindow = 5 * time.Minute

// DefaultCredentialRef derives the env var stem for an address:
// 192.168.1.10 -> 192_168_1_10, dc-01.corp -> DC_01_CORP.
func DefaultCredentialRef(address string) string {
	r := strings.NewReplacer(".", "_", "-", "_", ":", "_")
	return strings.ToUpper(r.Replace(address))
}

// Policy converts the retry block into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
	}
}

// BuildTargets returns the configured targets as domain values.
// Call after Validate.
func (c *Config) BuildTargets() []types.Target {
	out := make([]types.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, types.Target{
			Name:          t.Name,
			Address:       t.Address,
			Port:          t.Port,
			TLS:           t.TLS,
			Insecure:      t.Insecure,
			Auth:          t.Auth,
			CredentialRef: t.CredentialRef,
			Lookback:      t.Lookback,
			Timeout:       t.Timeout,
		})
	}
	return out
}

// InlineCredentials collects credentials written into the config file, keyed
// by credential ref.
func (c *Config) InlineCredentials() map[string]CredentialConfig {
	out := make(map[string]CredentialConfig)
	for _, t := range c.Targets {
		if t.Credentials != nil {
			out[t.CredentialRef] = *t.Credentials
		}
	}
	return out
}

// BuildRules returns the alert rules with their action variants.
// Call after Validate; invalid entries are already rejected there.
func (c *Config) BuildRules() []types.AlertRule {
	out := make([]types.AlertRule, 0, len(c.Alerts.Rules))
	for _, rc := range c.Alerts.Rules {
		rule := types.AlertRule{
			Name:       rc.Name,
			EventCodes: append([]int(nil), rc.EventIDs...),
			Categories: append([]string(nil), rc.LogTypes...),
			Threshold:  rc.Threshold,
			Window:     rc.Window,
		}
		if rc.Severity != "" {
			rule.Severity, _ = types.ParseSeverity(rc.Severity)
		}
		rule.GroupBy, _ = types.ParseGroupBy(rc.GroupBy)

		for _, a := range rc.Actions {
			switch strings.ToLower(a.Type) {
			case "webhook":
				rule.Actions = append(rule.Actions, types.WebhookAction{
					URL:  a.URL,
					Hint: types.ParseRenderHint(a.TypeHint),
				})
			case "remediation":
				rule.Actions = append(rule.Actions, types.RemediationAction{ScriptTemplate: a.Script})
			}
		}
		out = append(out, rule)
	}
	return out
}
