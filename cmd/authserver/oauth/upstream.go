package oauth

import (
	"fmt"
	"html"
	"net/http"

	"github.com/cadencehq/cadence-mcp/internal/events"
	"github.com/cadencehq/cadence-mcp/internal/upstream"
)

// UpstreamHandlers exposes the outbound flow over HTTP: a connect endpoint
// that redirects the user to the provider, and the callback the provider
// redirects back to.
type UpstreamHandlers struct {
	callback    *upstream.CallbackHandler
	redirectURI string
	events      *events.Publisher
}

// NewUpstreamHandlers wires the outbound HTTP routes. redirectURI is this
// server's own callback URL as registered with the provider.
func NewUpstreamHandlers(callback *upstream.CallbackHandler, redirectURI string, publisher *events.Publisher) *UpstreamHandlers {
	return &UpstreamHandlers{
		callback:    callback,
		redirectURI: redirectURI,
		events:      publisher,
	}
}

// HandleConnect starts the outbound flow for the authenticated user. It must
// sit behind the bearer middleware.
func (h *UpstreamHandlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	authURL, err := h.callback.AuthorizationURL(h.redirectURI, claims.Subject)
	if err != nil {
		http.Error(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback receives the provider redirect and renders the minimal
// human-readable result page.
func (h *UpstreamHandlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	outcome := h.callback.HandleCallback(r.Context(), r.URL.Query())
	if outcome.OK() {
		h.events.Publish(events.EventUpstreamLinked, "", "")
		renderResult(w, http.StatusOK, "Calendar connected", outcome.Message)
		return
	}
	renderResult(w, http.StatusBadRequest, "Connection failed", outcome.Message)
}

func renderResult(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 4rem auto;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}
