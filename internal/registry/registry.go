// Package registry holds the fleet of collection targets, their credentials
// and the status each host reached in the latest cycle.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/types"
)

// Credentials authenticate against one target
type Credentials struct {
	Username string
	Password string
}

// CredentialResolver finds credentials for a target
type CredentialResolver interface {
	Resolve(t types.Target) (Credentials, error)
}

// HostStatus is the last observed collection outcome for a host
type HostStatus struct {
	Host      string    `json:"host"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is immutable after New except for host statuses.
type Registry struct {
	targets []types.Target
	byName  map[string]types.Target
	creds   map[string]Credentials

	mu       sync.RWMutex
	statuses map[string]HostStatus

	logger zerolog.Logger
}

// New resolves credentials for every target. Targets without credentials are
// logged and left out; the registry is built from the rest.
func New(targets []types.Target, resolver CredentialResolver) *Registry {
	r := &Registry{
		byName:   make(map[string]types.Target),
		creds:    make(map[string]Credentials),
		statuses: make(map[string]HostStatus),
		logger:   log.With().Str("component", "registry").Logger(),
	}

	for _, t := range targets {
		c, err := resolver.Resolve(t)
		if err != nil {
			r.logger.Error().Err(err).Str("host", t.Name).Msg("Skipping target")
			continue
		}
		r.targets = append(r.targets, t)
		r.byName[t.Name] = t
		r.creds[t.Name] = c
		r.logger.Info().Str("host", t.Name).Str("address", t.Address).Int("port", t.Port).Msg("Initialized host")
	}
	return r
}

// Targets returns the registered targets in configuration order.
func (r *Registry) Targets() []types.Target {
	out := make([]types.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *Registry) Lookup(host string) (types.Target, bool) {
	t, ok := r.byName[host]
	return t, ok
}

func (r *Registry) Credentials(host string) (Credentials, error) {
	c, ok := r.creds[host]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for %s", host)
	}
	return c, nil
}

// SetStatus records the cycle outcome for host.
func (r *Registry) SetStatus(host, status, errMsg string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[host] = HostStatus{
		Host:      host,
		Address:   r.byName[host].Address,
		Status:    status,
		Error:     errMsg,
		UpdatedAt: at,
	}
}

// Statuses lists every registered host; hosts not yet collected are "pending".
func (r *Registry) Statuses() []HostStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HostStatus, 0, len(r.targets))
	for _, t := range r.targets {
		if s, ok := r.statuses[t.Name]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, HostStatus{Host: t.Name, Address: t.Address, Status: "pending"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
