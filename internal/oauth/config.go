package oauth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the authorization server settings consumed by this subsystem.
// TTLs are human duration strings ("1h", "30d") validated eagerly by the
// services that consume them.
type Config struct {
	Issuer          string
	Audience        string
	PrivateKeyPEM   string
	AccessTokenTTL  string
	RefreshTokenTTL string
	AuthCodeTTL     string

	// Policy loaded from the YAML policy file (or defaults).
	AllowedRedirectURIs []string          // exact-match allow-list; ["*"] allows all (dev only)
	ScopeDescriptions   map[string]string // shown on the consent step
}

// policyFile mirrors the on-disk YAML policy document.
type policyFile struct {
	AllowedRedirectURIs []string          `yaml:"allowed_redirect_uris"`
	Scopes              map[string]string `yaml:"scopes"`
}

// LoadConfigFromEnv reads server settings from the environment and, when
// OAUTH_POLICY_FILE is set, merges the YAML policy document.
func LoadConfigFromEnv() (Config, error) {
	issuer := strings.TrimSpace(os.Getenv("OAUTH_ISSUER"))
	if issuer == "" {
		return Config{}, fmt.Errorf("OAUTH_ISSUER is required")
	}

	audience := strings.TrimSpace(os.Getenv("OAUTH_AUDIENCE"))
	if audience == "" {
		audience = issuer
	}

	privatePEM := os.Getenv("OAUTH_PRIVATE_KEY_PEM")
	if privatePEM == "" {
		if path := os.Getenv("OAUTH_PRIVATE_KEY_PATH"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("failed to read OAUTH_PRIVATE_KEY_PATH: %w", err)
			}
			privatePEM = string(data)
		}
	}
	if privatePEM == "" {
		return Config{}, fmt.Errorf("OAUTH_PRIVATE_KEY_PEM or OAUTH_PRIVATE_KEY_PATH is required")
	}

	cfg := Config{
		Issuer:          strings.TrimRight(issuer, "/"),
		Audience:        audience,
		PrivateKeyPEM:   privatePEM,
		AccessTokenTTL:  envOrDefault("OAUTH_ACCESS_TOKEN_TTL", "1h"),
		RefreshTokenTTL: envOrDefault("OAUTH_REFRESH_TOKEN_TTL", "30d"),
		AuthCodeTTL:     envOrDefault("OAUTH_AUTH_CODE_TTL", "10m"),
	}

	// TTLs are a configuration surface; reject bad values at startup rather
	// than at issuance time.
	for _, ttl := range []string{cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.AuthCodeTTL} {
		if _, err := ParseTTL(ttl); err != nil {
			return Config{}, err
		}
	}

	if path := os.Getenv("OAUTH_POLICY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read OAUTH_POLICY_FILE: %w", err)
		}
		var policy policyFile
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return Config{}, fmt.Errorf("failed to parse OAUTH_POLICY_FILE: %w", err)
		}
		cfg.AllowedRedirectURIs = policy.AllowedRedirectURIs
		cfg.ScopeDescriptions = policy.Scopes
	}
	if uris := os.Getenv("OAUTH_ALLOWED_REDIRECT_URIS"); uris != "" {
		for _, uri := range strings.Split(uris, ",") {
			if uri = strings.TrimSpace(uri); uri != "" {
				cfg.AllowedRedirectURIs = append(cfg.AllowedRedirectURIs, uri)
			}
		}
	}

	return cfg, nil
}

// ParseTTL converts a human duration string into a time.Duration. Supported
// unit suffixes: s, m, h, d, w. An unrecognized format is an error, never a
// silent default.
func ParseTTL(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return 0, fmt.Errorf("invalid TTL %q: expected <number><s|m|h|d|w>", value)
	}

	unit := value[len(value)-1]
	count, err := strconv.ParseInt(value[:len(value)-1], 10, 64)
	if err != nil || count < 0 {
		return 0, fmt.Errorf("invalid TTL %q: expected <number><s|m|h|d|w>", value)
	}

	var seconds int64
	switch unit {
	case 's':
		seconds = 1
	case 'm':
		seconds = 60
	case 'h':
		seconds = 3600
	case 'd':
		seconds = 86400
	case 'w':
		seconds = 604800
	default:
		return 0, fmt.Errorf("invalid TTL %q: unknown unit %q", value, string(unit))
	}

	return time.Duration(count*seconds) * time.Second, nil
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
