// Package oauth exposes the authorization server endpoints over HTTP:
// dynamic registration, authorization, token, discovery, and JWKS.
package oauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/cadencehq/cadence-mcp/internal/events"
	"github.com/cadencehq/cadence-mcp/internal/logger"
	"github.com/cadencehq/cadence-mcp/internal/oauth"
	"github.com/cadencehq/cadence-mcp/internal/pkce"
)

// SessionCookieName carries the consent session id between the host's login
// flow and the authorization endpoint.
const SessionCookieName = "cadence_session"

// Server wires the credential subsystem's components behind HTTP handlers.
type Server struct {
	cfg       oauth.Config
	keys      *oauth.KeyManager
	registry  *oauth.ClientRegistry
	authCodes *oauth.AuthCodeStore
	sessions  oauth.SessionStore
	tokens    *oauth.TokenService
	events    *events.Publisher
}

// NewServer creates the HTTP facade. events may be nil.
func NewServer(
	cfg oauth.Config,
	keys *oauth.KeyManager,
	registry *oauth.ClientRegistry,
	authCodes *oauth.AuthCodeStore,
	sessions oauth.SessionStore,
	tokens *oauth.TokenService,
	publisher *events.Publisher,
) *Server {
	return &Server{
		cfg:       cfg,
		keys:      keys,
		registry:  registry,
		authCodes: authCodes,
		sessions:  sessions,
		tokens:    tokens,
		events:    publisher,
	}
}

// Routes registers all authorization-server endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/oauth/register", s.HandleRegister)
	mux.HandleFunc("/oauth/authorize", s.HandleAuthorize)
	mux.HandleFunc("/oauth/token", s.HandleToken)
	mux.HandleFunc("/oauth/jwks", s.HandleJWKS)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.HandleMetadata)
}

// HandleRegister implements RFC 7591 dynamic client registration.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req oauth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidClientMetadata, "invalid JSON body"))
		return
	}

	client, clientSecret, err := s.registry.Register(&req)
	if err != nil {
		writeOAuthError(w, registrationStatus(err), err)
		return
	}
	s.events.Publish(events.EventClientRegistered, client.ClientID, "")

	resp := oauth.RegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        client.ClientIDIssuedAt.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleAuthorize issues an authorization code for an authenticated session.
// Rendering the login/consent UI belongs to the host application; without a
// valid session cookie this endpoint answers 401.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if query.Get("response_type") != "code" {
		http.Error(w, "unsupported response_type", http.StatusBadRequest)
		return
	}

	clientID := query.Get("client_id")
	client, err := s.registry.GetClient(clientID)
	if err != nil || client == nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}

	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" || !s.registry.IsValidRedirectURI(clientID, redirectURI) {
		// Never redirect to an unvalidated URI, even to report the error.
		http.Error(w, "redirect_uri not allowed", http.StatusBadRequest)
		return
	}

	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")
	if codeChallenge == "" || !strings.EqualFold(codeChallengeMethod, pkce.MethodS256) {
		http.Error(w, "PKCE with S256 is required", http.StatusBadRequest)
		return
	}
	if err := pkce.ValidateChallenge(codeChallenge); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := s.sessionFromRequest(r)
	if session == nil {
		http.Error(w, "login required", http.StatusUnauthorized)
		return
	}

	code, err := s.authCodes.Issue(oauth.IssueCodeOptions{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               strings.TrimSpace(query.Get("scope")),
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: pkce.MethodS256,
		Resource:            query.Get("resource"),
		UserID:              session.UserID,
	})
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, err)
		return
	}

	http.Redirect(w, r, buildRedirect(redirectURI, code, query.Get("state")), http.StatusFound)
}

// HandleToken exchanges authorization codes or refresh tokens for signed
// access tokens.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "invalid form body"))
		return
	}

	client, err := s.registry.AuthenticateClient(r.FormValue("client_id"), r.FormValue("client_secret"))
	if err != nil {
		writeOAuthError(w, http.StatusUnauthorized, err)
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r, client)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r, client)
	default:
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "unsupported grant_type"))
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client *oauth.Client) {
	code := r.FormValue("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "code is required"))
		return
	}

	record, err := s.authCodes.Consume(code, client.ClientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, err)
		return
	}

	redirectURI := r.FormValue("redirect_uri")
	if redirectURI == "" || redirectURI != record.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "redirect_uri mismatch"))
		return
	}

	// The submitted verifier is a secret; it must never appear in logs or
	// error descriptions.
	ok, err := pkce.Verify(r.FormValue("code_verifier"), record.CodeChallenge, record.CodeChallengeMethod)
	if err != nil || !ok {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "PKCE verification failed"))
		return
	}

	audience := record.Resource
	if audience == "" {
		audience = s.cfg.Audience
	}
	resp, err := s.tokens.IssueTokenPair(client.ClientID, record.UserID, record.Scope, audience)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, err)
		return
	}

	s.events.Publish(events.EventTokenIssued, client.ClientID, record.UserID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client *oauth.Client) {
	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrCodeInvalidGrant, "refresh_token is required"))
		return
	}

	resp, err := s.tokens.RefreshAccessToken(refreshToken, client.ClientID, s.cfg.Audience)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMetadata serves RFC 8414 authorization server metadata.
func (s *Server) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := s.cfg.Issuer
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"jwks_uri":                              issuer + "/oauth/jwks",
		"registration_endpoint":                 issuer + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{pkce.MethodS256},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"scopes_supported":                      scopeNames(s.cfg.ScopeDescriptions),
	})
}

// HandleJWKS serves the RS256 public key.
func (s *Server) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pub := s.keys.PublicKey()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]interface{}{
			{
				"kty": "RSA",
				"use": "sig",
				"kid": s.keys.KID(),
				"alg": "RS256",
				"n":   base64URLUint(pub.N),
				"e":   base64URLUint(big.NewInt(int64(pub.E))),
			},
		},
	})
}

// Logout deletes the consent session named by the cookie, if any.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := s.sessions.DeleteSession(cookie.Value); err != nil {
			logger.Warnw("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionFromRequest(r *http.Request) *oauth.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	session, err := s.sessions.GetSession(cookie.Value)
	if err != nil {
		logger.Warnw("session lookup failed", "error", err)
		return nil
	}
	return session
}

func registrationStatus(err error) int {
	switch oauth.ErrorCode(err) {
	case oauth.ErrCodeInvalidClientMetadata, oauth.ErrCodeInvalidRedirectURI:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func buildRedirect(base, code, state string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	query := parsed.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func scopeNames(descriptions map[string]string) []string {
	names := make([]string, 0, len(descriptions))
	for name := range descriptions {
		names = append(names, name)
	}
	return names
}

func base64URLUint(value *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(value.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

func writeOAuthError(w http.ResponseWriter, status int, err error) {
	var oerr *oauth.Error
	if !errors.As(err, &oerr) {
		oerr = oauth.NewError(oauth.ErrCodeServerError, "internal error")
	}
	writeJSON(w, status, oerr)
}
