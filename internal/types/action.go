package types

import "strings"

// ActionKind tags the Action variant
type ActionKind string

const (
	ActionWebhook     ActionKind = "webhook"
	ActionRemediation ActionKind = "remediation"
)

// Action is a closed variant: WebhookAction or RemediationAction.
type Action interface {
	Kind() ActionKind
	isAction()
}

// RenderHint selects the webhook payload shape
type RenderHint string

const (
	HintGeneric RenderHint = "generic"
	HintSlack   RenderHint = "slack"
	HintDiscord RenderHint = "discord"
)

// ParseRenderHint never fails: unknown hints render the generic shape.
func ParseRenderHint(s string) RenderHint {
	switch RenderHint(strings.ToLower(strings.TrimSpace(s))) {
	case HintSlack:
		return HintSlack
	case HintDiscord:
		return HintDiscord
	default:
		return HintGeneric
	}
}

// WebhookAction posts a notification to an HTTP endpoint
type WebhookAction struct {
	URL  string
	Hint RenderHint
}

func (WebhookAction) Kind() ActionKind { return ActionWebhook }
func (WebhookAction) isAction()        {}

// RemediationAction runs a PowerShell script on the event's host
type RemediationAction struct {
	ScriptTemplate string
}

func (RemediationAction) Kind() ActionKind { return ActionRemediation }
func (RemediationAction) isAction()        {}
