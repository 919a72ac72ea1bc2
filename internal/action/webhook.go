package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"
)

const senderName = "Headless Sentinel"

// Message renders the notification text shared by every payload shape.
func Message(f *types.Firing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Alert: %s**\n\n", f.Rule)
	b.WriteString("Triggered conditions:\n")
	fmt.Fprintf(&b, "- %s: Event %d (%d times in %s)\n", f.Trigger.Host, f.Trigger.EventCode, f.Count, f.Window)
	if f.Explanation != "" {
		b.WriteString("\n" + f.Explanation)
	}
	return b.String()
}

// RenderPayload builds the JSON body for the hint. Unknown hints are generic.
func RenderPayload(hint types.RenderHint, f *types.Firing) ([]byte, error) {
	msg := Message(f)
	var payload any
	switch hint {
	case types.HintDiscord:
		payload = map[string]string{"content": msg, "username": senderName}
	case types.HintSlack:
		payload = map[string]string{"text": msg, "username": senderName, "icon_emoji": ":shield:"}
	default:
		payload = map[string]any{
			"message":    msg,
			"source":     senderName,
			"firing_id":  f.ID,
			"rule":       f.Rule,
			"group_key":  f.GroupKey,
			"count":      f.Count,
			"window":     f.Window.String(),
			"host":       f.Trigger.Host,
			"event_code": f.Trigger.EventCode,
			"fired_at":   f.FiredAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return json.Marshal(payload)
}

// WebhookSender posts JSON with a bounded retry and a per-URL rate limit.
type WebhookSender struct {
	client    *http.Client
	policy    retry.Policy
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewWebhookSender(timeout time.Duration, policy retry.Policy, perMinute int) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client:    &http.Client{Timeout: timeout},
		policy:    policy,
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (s *WebhookSender) limiter(url string) *rate.Limiter {
	if s.perMinute <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[url]
	if !ok {
		burst := s.perMinute / 6
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), burst)
		s.limiters[url] = l
	}
	return l
}

// Send posts body to url. 2xx is success; 429 and 5xx are retried; other
// statuses fail at once.
func (s *WebhookSender) Send(ctx context.Context, url string, body []byte) (int, error) {
	lim := s.limiter(url)
	return retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limit: %w", err))
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned status: %s", resp.Status)
		default:
			return retry.Permanent(fmt.Errorf("webhook returned status: %s", resp.Status))
		}
	})
}
