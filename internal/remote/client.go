// Package remote runs PowerShell on Windows hosts over WinRM.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/types"
)

// Runner executes a PowerShell script on a target and returns stdout.
// Transport failures come back as *types.TransportError.
type Runner interface {
	RunPowerShell(ctx context.Context, target types.Target, creds registry.Credentials, script string) (string, error)
}

// Client is the WinRM Runner.
type Client struct {
	// DefaultTimeout bounds a call when the target sets none and ctx has no deadline.
	DefaultTimeout time.Duration
}

func NewClient(defaultTimeout time.Duration) *Client {
	return &Client{DefaultTimeout: defaultTimeout}
}

func (c *Client) timeoutFor(ctx context.Context, t types.Target) time.Duration {
	d := t.Timeout
	if d <= 0 {
		d = c.DefaultTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); d <= 0 || left < d {
			d = left
		}
	}
	if d <= 0 {
		d = 60 * time.Second
	}
	return d
}

func (c *Client) RunPowerShell(ctx context.Context, target types.Target, creds registry.Credentials, script string) (string, error) {
	timeout := c.timeoutFor(ctx, target)
	endpoint := winrm.NewEndpoint(target.Address, target.Port, target.TLS, target.Insecure, nil, nil, nil, timeout)

	params := *winrm.DefaultParameters
	if target.Auth != "basic" {
		params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
	}

	client, err := winrm.NewClientWithParameters(endpoint, creds.Username, creds.Password, &params)
	if err != nil {
		return "", &types.TransportError{Kind: types.TransportUnreachable, Host: target.Name, Err: err}
	}

	stdout, stderr, code, err := client.RunWithContextWithString(ctx, winrm.Powershell(script), "")
	if err != nil {
		return "", Classify(ctx, target.Name, err)
	}
	if code != 0 {
		return stdout, &types.TransportError{
			Kind: types.TransportUnreachable,
			Host: target.Name,
			Err:  fmt.Errorf("exit code %d: %s", code, strings.TrimSpace(stderr)),
		}
	}
	return stdout, nil
}

// Classify maps a transport error onto unreachable, auth or timeout.
func Classify(ctx context.Context, host string, err error) *types.TransportError {
	var te *types.TransportError
	if errors.As(err, &te) {
		return te
	}

	kind := types.TransportUnreachable
	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = types.TransportTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = types.TransportTimeout
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		kind = types.TransportAuth
	}
	return &types.TransportError{Kind: kind, Host: host, Err: err}
}
