package registry

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/types"
)

// EnvResolver looks credentials up in this order:
//  1. SENTINEL_<REF>_USERNAME / SENTINEL_<REF>_PASSWORD
//  2. credentials written in the config file (warned)
//  3. SENTINEL_DEFAULT_USERNAME / SENTINEL_DEFAULT_PASSWORD (warned)
type EnvResolver struct {
	Inline map[string]Credentials
	Getenv func(string) string
}

func (e EnvResolver) getenv(k string) string {
	if e.Getenv != nil {
		return e.Getenv(k)
	}
	return os.Getenv(k)
}

func (e EnvResolver) Resolve(t types.Target) (Credentials, error) {
	user := e.getenv("SENTINEL_" + t.CredentialRef + "_USERNAME")
	pass := e.getenv("SENTINEL_" + t.CredentialRef + "_PASSWORD")
	if user != "" && pass != "" {
		return Credentials{Username: user, Password: pass}, nil
	}

	if c, ok := e.Inline[t.CredentialRef]; ok && c.Username != "" {
		log.Warn().Str("host", t.Name).Msg("Using credentials from config file, prefer environment variables")
		return c, nil
	}

	user = e.getenv("SENTINEL_DEFAULT_USERNAME")
	pass = e.getenv("SENTINEL_DEFAULT_PASSWORD")
	if user != "" && pass != "" {
		log.Warn().Str("host", t.Name).Msg("Using default credentials")
		return Credentials{Username: user, Password: pass}, nil
	}

	return Credentials{}, fmt.Errorf("no credentials found for %s (ref %s)", t.Name, t.CredentialRef)
}
