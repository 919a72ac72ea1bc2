package registry

import (
	"testing"
	"time"

	"headless-sentinel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestEnvResolverOrder(t *testing.T) {
	target := types.Target{Name: "dc01", Address: "10.0.0.1", CredentialRef: "10_0_0_1"}

	r := EnvResolver{
		Inline: map[string]Credentials{"10_0_0_1": {Username: "inline", Password: "p"}},
		Getenv: envMap(map[string]string{
			"SENTINEL_10_0_0_1_USERNAME": "env",
			"SENTINEL_10_0_0_1_PASSWORD": "p",
			"SENTINEL_DEFAULT_USERNAME":  "default",
			"SENTINEL_DEFAULT_PASSWORD":  "p",
		}),
	}
	c, err := r.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, "env", c.Username)

	r.Getenv = envMap(map[string]string{
		"SENTINEL_10_0_0_1_USERNAME": "env-without-password",
		"SENTINEL_DEFAULT_USERNAME":  "default",
		"SENTINEL_DEFAULT_PASSWORD":  "p",
	})
	c, err = r.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, "inline", c.Username)

	r.Inline = nil
	c, err = r.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, "default", c.Username)

	r.Getenv = envMap(nil)
	_, err = r.Resolve(target)
	assert.Error(t, err)
}

func TestNewSkipsTargetsWithoutCredentials(t *testing.T) {
	targets := []types.Target{
		{Name: "dc01", Address: "10.0.0.1", CredentialRef: "A"},
		{Name: "orphan", Address: "10.0.0.2", CredentialRef: "B"},
		{Name: "srv03", Address: "10.0.0.3", CredentialRef: "C"},
	}
	res := EnvResolver{Getenv: envMap(map[string]string{
		"SENTINEL_A_USERNAME": "u", "SENTINEL_A_PASSWORD": "p",
		"SENTINEL_C_USERNAME": "u3", "SENTINEL_C_PASSWORD": "p3",
	})}

	reg := New(targets, res)
	got := reg.Targets()
	require.Len(t, got, 2)
	assert.Equal(t, "dc01", got[0].Name)
	assert.Equal(t, "srv03", got[1].Name)

	_, ok := reg.Lookup("orphan")
	assert.False(t, ok)

	c, err := reg.Credentials("srv03")
	require.NoError(t, err)
	assert.Equal(t, "u3", c.Username)

	_, err = reg.Credentials("orphan")
	assert.Error(t, err)
}

func TestStatuses(t *testing.T) {
	res := EnvResolver{Getenv: envMap(map[string]string{
		"SENTINEL_DEFAULT_USERNAME": "u", "SENTINEL_DEFAULT_PASSWORD": "p",
	})}
	reg := New([]types.Target{{Name: "b", Address: "10.0.0.2"}, {Name: "a", Address: "10.0.0.1"}}, res)

	now := time.Now()
	reg.SetStatus("b", "unreachable", "dial tcp: refused", now)

	st := reg.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Host)
	assert.Equal(t, "pending", st[0].Status)
	assert.Equal(t, "unreachable", st[1].Status)
	assert.Equal(t, "10.0.0.2", st[1].Address)
	assert.Equal(t, "dial tcp: refused", st[1].Error)
}
