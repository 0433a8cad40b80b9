package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"0s", 0},
		{" 1h ", time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseTTL(tt.value)
		require.NoError(t, err, "value %q", tt.value)
		assert.Equal(t, tt.want, got, "value %q", tt.value)
	}
}

func TestParseTTL_Invalid(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"", "h", "1", "1x", "-1h", "h1", "1.5h", "forever", "1hh"} {
		_, err := ParseTTL(value)
		assert.Error(t, err, "value %q must be rejected", value)
	}
}

func TestLoadConfigFromEnv_RequiresIssuer(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "irrelevant")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_ISSUER")
}

func TestLoadConfigFromEnv_RequiresKey(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "")
	t.Setenv("OAUTH_PRIVATE_KEY_PATH", "")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "https://auth.example.com/")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "dummy-pem")
	t.Setenv("OAUTH_AUDIENCE", "")
	t.Setenv("OAUTH_ACCESS_TOKEN_TTL", "")
	t.Setenv("OAUTH_REFRESH_TOKEN_TTL", "")
	t.Setenv("OAUTH_AUTH_CODE_TTL", "")
	t.Setenv("OAUTH_POLICY_FILE", "")
	t.Setenv("OAUTH_ALLOWED_REDIRECT_URIS", "")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", cfg.Issuer, "trailing slash is trimmed")
	assert.Equal(t, "https://auth.example.com/", cfg.Audience, "audience defaults to the raw issuer")
	assert.Equal(t, "1h", cfg.AccessTokenTTL)
	assert.Equal(t, "30d", cfg.RefreshTokenTTL)
	assert.Equal(t, "10m", cfg.AuthCodeTTL)
	assert.Empty(t, cfg.AllowedRedirectURIs)
}

func TestLoadConfigFromEnv_RejectsBadTTL(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "dummy-pem")
	t.Setenv("OAUTH_ACCESS_TOKEN_TTL", "soon")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
}

func TestLoadConfigFromEnv_KeyFromPath(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("pem-from-file"), 0o600))

	t.Setenv("OAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "")
	t.Setenv("OAUTH_PRIVATE_KEY_PATH", keyPath)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "pem-from-file", cfg.PrivateKeyPEM)
}

func TestLoadConfigFromEnv_PolicyFile(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	policy := `allowed_redirect_uris:
  - https://example.com/cb
  - https://other.example/cb
scopes:
  calendar:read: Read calendar events
`
	require.NoError(t, os.WriteFile(policyPath, []byte(policy), 0o600))

	t.Setenv("OAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("OAUTH_PRIVATE_KEY_PEM", "dummy-pem")
	t.Setenv("OAUTH_POLICY_FILE", policyPath)
	t.Setenv("OAUTH_ALLOWED_REDIRECT_URIS", "https://extra.example/cb")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/cb",
		"https://other.example/cb",
		"https://extra.example/cb",
	}, cfg.AllowedRedirectURIs)
	assert.Equal(t, "Read calendar events", cfg.ScopeDescriptions["calendar:read"])
}
