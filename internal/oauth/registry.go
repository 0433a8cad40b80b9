package oauth

import (
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cadencehq/cadence-mcp/internal/logger"
)

// firstPartyRedirectURIs are the host application's own callback URLs. They
// are trusted unconditionally, allow-listed or not.
var firstPartyRedirectURIs = []string{
	"https://app.cadence.dev/oauth/callback",
	"https://app.cadence.dev/auth/complete",
}

// ClientRegistry implements RFC 7591 dynamic client registration on top of a
// pluggable ClientStore. The registry owns the only reference to stored
// clients; callers always receive copies.
type ClientRegistry struct {
	store ClientStore

	// allowedRedirectURIs is the server-side exact-match allow-list for
	// third-party redirect URIs. A single "*" entry allows everything
	// (development only).
	allowedRedirectURIs []string
}

// NewClientRegistry creates a registry over the given store.
func NewClientRegistry(store ClientStore, allowedRedirectURIs []string) *ClientRegistry {
	return &ClientRegistry{
		store:               store,
		allowedRedirectURIs: allowedRedirectURIs,
	}
}

// Register validates client metadata, assigns a client_id, and persists the
// registration synchronously. The flush happens before Register returns so a
// crash between registration and first use cannot lose the client.
func (r *ClientRegistry) Register(req *RegistrationRequest) (*Client, string, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return nil, "", NewError(ErrCodeInvalidClientMetadata, "client_name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, "", NewError(ErrCodeInvalidRedirectURI, "at least one redirect_uri is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := r.validateRedirectURI(uri); err != nil {
			return nil, "", err
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}

	clientID, err := RandomID("client")
	if err != nil {
		return nil, "", NewError(ErrCodeServerError, "failed to generate client_id")
	}

	var clientSecret, clientSecretHash string
	if authMethod != "none" {
		clientSecret, err = RandomString(32)
		if err != nil {
			return nil, "", NewError(ErrCodeServerError, "failed to generate client_secret")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", NewError(ErrCodeServerError, "failed to hash client_secret")
		}
		clientSecretHash = string(hash)
	}

	client := &Client{
		ClientID:                clientID,
		ClientSecretHash:        clientSecretHash,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
		ClientIDIssuedAt:        time.Now(),
	}

	if err := r.store.Save(client); err != nil {
		logger.Errorw("failed to persist client registration", "error", err)
		return nil, "", NewError(ErrCodeServerError, "failed to store client")
	}

	logger.Infow("registered OAuth client",
		"client_id", clientID,
		"client_name", client.ClientName,
		"redirect_uris", len(client.RedirectURIs),
	)
	return client, clientSecret, nil
}

// GetClient returns the client or nil when unknown.
func (r *ClientRegistry) GetClient(clientID string) (*Client, error) {
	return r.store.Get(clientID)
}

// DeleteClient removes a registration, flushing synchronously on success.
func (r *ClientRegistry) DeleteClient(clientID string) (bool, error) {
	deleted, err := r.store.Delete(clientID)
	if err != nil {
		return false, err
	}
	if deleted {
		logger.Infow("deleted OAuth client", "client_id", clientID)
	}
	return deleted, nil
}

// AuthenticateClient checks a client_id (and, for confidential clients, the
// client_secret) presented at the token endpoint.
func (r *ClientRegistry) AuthenticateClient(clientID, clientSecret string) (*Client, error) {
	if clientID == "" {
		return nil, NewError(ErrCodeInvalidClient, "client_id is required")
	}
	client, err := r.store.Get(clientID)
	if err != nil {
		return nil, NewError(ErrCodeServerError, "client lookup failed")
	}
	if client == nil {
		return nil, NewError(ErrCodeInvalidClient, "unknown client_id")
	}
	if client.TokenEndpointAuthMethod == "none" {
		return client, nil
	}
	if clientSecret == "" {
		return nil, NewError(ErrCodeInvalidClient, "client_secret is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return nil, NewError(ErrCodeInvalidClient, "invalid client_secret")
	}
	return client, nil
}

// IsValidRedirectURI checks a redirect_uri at authorization time: exact match
// against the client's registered set, with one relaxation — a client that
// registered at least one loopback URI may redirect to any loopback URI, so
// CLI clients can bind an ephemeral local port. No prefix or substring
// matching, ever.
func (r *ClientRegistry) IsValidRedirectURI(clientID, redirectURI string) bool {
	client, err := r.store.Get(clientID)
	if err != nil || client == nil {
		return false
	}

	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return true
		}
	}

	if isLoopbackURI(redirectURI) {
		for _, registered := range client.RedirectURIs {
			if isLoopbackURI(registered) {
				return true
			}
		}
	}
	return false
}

// validateRedirectURI applies the registration policy from most to least
// trusted: first-party callback, loopback, then the allow-list + HTTPS rule.
func (r *ClientRegistry) validateRedirectURI(uri string) error {
	for _, trusted := range firstPartyRedirectURIs {
		if uri == trusted {
			return nil
		}
	}

	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return NewError(ErrCodeInvalidRedirectURI, "redirect_uri %q is not a valid absolute URL", uri)
	}

	if isLoopbackURI(uri) {
		return nil
	}

	if !r.isAllowListed(uri) {
		return NewError(ErrCodeInvalidRedirectURI, "redirect_uri %q is not allow-listed", uri)
	}
	if parsed.Scheme != "https" && parsed.Hostname() != "localhost" {
		return NewError(ErrCodeInvalidRedirectURI, "redirect_uri %q must use https", uri)
	}
	return nil
}

func (r *ClientRegistry) isAllowListed(uri string) bool {
	for _, allowed := range r.allowedRedirectURIs {
		if allowed == "*" || allowed == uri {
			return true
		}
	}
	return false
}

// isLoopbackURI reports whether the URI points at localhost or a loopback
// address, on any port.
func isLoopbackURI(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
