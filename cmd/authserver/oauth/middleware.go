package oauth

import (
	"context"
	"net/http"

	"github.com/cadencehq/cadence-mcp/internal/oauth"
)

type contextKey string

// ClaimsContextKey holds the verified access token claims for downstream
// handlers.
const ClaimsContextKey contextKey = "oauth_claims"

// Middleware authenticates requests with a bearer access token minted by
// this server.
type Middleware struct {
	tokens   *oauth.TokenService
	audience string
}

// NewMiddleware creates bearer-token middleware verifying against the given
// audience.
func NewMiddleware(tokens *oauth.TokenService, audience string) *Middleware {
	return &Middleware{tokens: tokens, audience: audience}
}

// Handler rejects requests without a valid bearer token and stores the
// verified claims on the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := oauth.ExtractTokenFromHeader(r.Header.Get("Authorization"))
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="cadence"`)
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.VerifyAccessToken(token, m.audience)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the verified claims placed by Handler, or nil.
func ClaimsFromContext(ctx context.Context) *oauth.AccessTokenClaims {
	claims, _ := ctx.Value(ClaimsContextKey).(*oauth.AccessTokenClaims)
	return claims
}
