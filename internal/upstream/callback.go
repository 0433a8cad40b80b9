package upstream

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/cadencehq/cadence-mcp/internal/logger"
)

// exchangeTimeout bounds the outbound call to the provider's token endpoint.
// Its expiry surfaces as an ordinary exchange-failed outcome.
const exchangeTimeout = 30 * time.Second

// TokenSink receives the upstream token set once an exchange succeeds. The
// calendar credential store implements this.
type TokenSink interface {
	StoreTokens(ctx context.Context, userID string, token *oauth2.Token) error
}

// OutcomeStatus classifies how a callback resolved.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeAccessDenied
	OutcomeProviderError
	OutcomeSessionNotFound
	OutcomeCodeMissing
	OutcomeSessionExpired
	OutcomeExchangeFailed
)

// Outcome is the user-facing result of a callback. Message is safe to render.
type Outcome struct {
	Status  OutcomeStatus
	Message string
}

// OK reports whether the flow completed.
func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// ProviderConfig describes the upstream OAuth provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// CallbackHandler completes outbound OAuth flows: it matches the provider's
// redirect to a pending entry, exchanges the code using the stored PKCE
// verifier, and hands the token set to the sink.
type CallbackHandler struct {
	pending    *PendingAuthStore
	sink       TokenSink
	provider   ProviderConfig
	httpClient *http.Client
}

// NewCallbackHandler wires the handler. httpClient may be nil; a client with
// the exchange timeout is used then.
func NewCallbackHandler(pending *PendingAuthStore, sink TokenSink, provider ProviderConfig, httpClient *http.Client) *CallbackHandler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: exchangeTimeout}
	}
	return &CallbackHandler{
		pending:    pending,
		sink:       sink,
		provider:   provider,
		httpClient: httpClient,
	}
}

// AuthorizationURL starts a new outbound flow: it creates the pending entry
// and returns the provider URL to redirect the user to.
func (h *CallbackHandler) AuthorizationURL(redirectURI, userID string) (string, error) {
	result, err := h.pending.Create(redirectURI, userID)
	if err != nil {
		return "", err
	}

	cfg := h.oauthConfig(redirectURI)
	authURL := cfg.AuthCodeURL(result.State,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", result.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return authURL, nil
}

// HandleCallback resolves a provider redirect. The pending entry is removed
// only after a successful exchange and sink hand-off, so a transient network
// failure leaves the session intact for a retry within its TTL.
func (h *CallbackHandler) HandleCallback(ctx context.Context, query url.Values) Outcome {
	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		logger.Warnw("upstream authorization rejected",
			"error", errCode,
			"description", description,
		)
		if errCode == "access_denied" {
			return Outcome{
				Status:  OutcomeAccessDenied,
				Message: "You declined the calendar connection. You can retry from settings at any time.",
			}
		}
		return Outcome{
			Status:  OutcomeProviderError,
			Message: "The calendar provider reported an error. Please try connecting again.",
		}
	}

	state := query.Get("state")
	if state == "" {
		return Outcome{
			Status:  OutcomeSessionNotFound,
			Message: "Authorization session not found. Please start the connection again.",
		}
	}
	code := query.Get("code")
	if code == "" {
		return Outcome{
			Status:  OutcomeCodeMissing,
			Message: "No authorization code was returned by the provider.",
		}
	}

	entry := h.pending.FindByState(state)
	if entry == nil {
		return Outcome{
			Status:  OutcomeSessionExpired,
			Message: "Your authorization session has expired. Please start the connection again.",
		}
	}

	token, err := h.exchange(ctx, entry, code)
	if err != nil {
		logger.Errorw("upstream token exchange failed", "error", err)
		return Outcome{
			Status:  OutcomeExchangeFailed,
			Message: "Connecting your calendar failed. Please try again.",
		}
	}

	if err := h.sink.StoreTokens(ctx, entry.UserID, token); err != nil {
		logger.Errorw("failed to store upstream tokens", "error", err)
		return Outcome{
			Status:  OutcomeExchangeFailed,
			Message: "Connecting your calendar failed. Please try again.",
		}
	}

	// Only now is the state spent; anything before this point may be retried.
	h.pending.Remove(state)

	logger.Infow("linked upstream calendar account", "user_id", entry.UserID)
	return Outcome{
		Status:  OutcomeSuccess,
		Message: "Calendar connected. You can close this window.",
	}
}

// exchange redeems the code with the stored verifier and redirect URI, and
// insists on a complete token set: an exchange that yields no refresh token
// would leave us unable to act once the access token expires.
func (h *CallbackHandler) exchange(ctx context.Context, entry *PendingAuth, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)

	cfg := h.oauthConfig(entry.RedirectURI)
	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(entry.CodeVerifier))
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, &IncompleteTokenError{Missing: "access_token"}
	}
	if token.RefreshToken == "" {
		return nil, &IncompleteTokenError{Missing: "refresh_token"}
	}
	return token, nil
}

func (h *CallbackHandler) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.provider.ClientID,
		ClientSecret: h.provider.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       h.provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  h.provider.AuthURL,
			TokenURL: h.provider.TokenURL,
		},
	}
}

// IncompleteTokenError reports a token response missing a required field.
type IncompleteTokenError struct {
	Missing string
}

func (e *IncompleteTokenError) Error() string {
	return "upstream token response missing " + e.Missing
}
