package oauth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cadencehq/cadence-mcp/internal/logger"
)

// AccessTokenClaims are the RS256 JWT claims this server mints. Validity is
// proven by signature and claim inspection alone; nothing is stored
// server-side for access tokens.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// TokenService mints and verifies signed access tokens and rotates refresh
// tokens. TTL strings are parsed at construction; a bad TTL is a
// configuration error, not an issuance-time surprise.
type TokenService struct {
	issuer          string
	keys            *KeyManager
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	refreshTokens   *RefreshTokenStore
}

// NewTokenService builds a token service from the configured issuer, key
// pair, and human-readable TTL strings ("1h", "30d").
func NewTokenService(issuer string, keys *KeyManager, accessTTL, refreshTTL string) (*TokenService, error) {
	accessDur, err := ParseTTL(accessTTL)
	if err != nil {
		return nil, err
	}
	refreshDur, err := ParseTTL(refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenService{
		issuer:          issuer,
		keys:            keys,
		accessTokenTTL:  accessDur,
		refreshTokenTTL: refreshDur,
		refreshTokens:   NewRefreshTokenStore(),
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (t *TokenService) AccessTokenTTL() time.Duration {
	return t.accessTokenTTL
}

// IssueAccessToken mints a signed access token and its response envelope
// (without a refresh token).
func (t *TokenService) IssueAccessToken(clientID, userID, scope, audience string) (*TokenResponse, error) {
	signed, err := t.signAccessToken(clientID, userID, scope, audience)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(t.accessTokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// IssueTokenPair mints an access token plus a fresh opaque refresh token.
func (t *TokenService) IssueTokenPair(clientID, userID, scope, audience string) (*TokenResponse, error) {
	resp, err := t.IssueAccessToken(clientID, userID, scope, audience)
	if err != nil {
		return nil, err
	}

	refreshToken, err := RandomString(32)
	if err != nil {
		return nil, NewError(ErrCodeServerError, "failed to generate refresh token")
	}
	t.refreshTokens.Save(&RefreshToken{
		TokenHash: HashToken(refreshToken),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(t.refreshTokenTTL),
	})

	resp.RefreshToken = refreshToken
	return resp, nil
}

// RefreshAccessToken redeems a refresh token for a new pair. The presented
// token is rotated: it is revoked in the same critical section that validates
// it, so replaying a stolen refresh token dies on first legitimate reuse.
func (t *TokenService) RefreshAccessToken(refreshToken, clientID, audience string) (*TokenResponse, error) {
	record, err := t.refreshTokens.Consume(HashToken(refreshToken), clientID)
	if err != nil {
		return nil, err
	}
	resp, err := t.IssueTokenPair(clientID, record.UserID, record.Scope, audience)
	if err != nil {
		return nil, err
	}
	logger.Debugw("rotated refresh token", "client_id", clientID)
	return resp, nil
}

// VerifyAccessToken validates signature, issuer, expiry, and (when supplied)
// audience. Every failure comes back as a typed invalid_token error.
func (t *TokenService) VerifyAccessToken(tokenString, expectedAudience string) (*AccessTokenClaims, error) {
	if strings.Count(tokenString, ".") != 2 {
		return nil, NewError(ErrCodeInvalidToken, "invalid token format")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&AccessTokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return t.keys.PublicKey(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, NewError(ErrCodeInvalidToken, "invalid token format")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, NewError(ErrCodeInvalidToken, "token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, NewError(ErrCodeInvalidToken, "invalid signature")
		default:
			return nil, NewError(ErrCodeInvalidToken, "token verification failed")
		}
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, NewError(ErrCodeInvalidToken, "invalid claims")
	}
	if claims.Issuer != t.issuer {
		return nil, NewError(ErrCodeInvalidToken, "issuer mismatch")
	}
	if expectedAudience != "" && !audienceContains(claims.Audience, expectedAudience) {
		return nil, NewError(ErrCodeInvalidToken, "audience mismatch")
	}
	return claims, nil
}

// ExtractTokenFromHeader pulls the bearer token out of an Authorization
// header. Only a two-part "Bearer <token>" form is accepted; the scheme is
// case-insensitive.
func ExtractTokenFromHeader(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RevokeRefreshToken explicitly revokes a refresh token, e.g. on logout.
func (t *TokenService) RevokeRefreshToken(refreshToken string) {
	t.refreshTokens.Revoke(HashToken(refreshToken))
}

func (t *TokenService) signAccessToken(clientID, userID, scope, audience string) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Scope:    scope,
		ClientID: clientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = t.keys.KID()

	signed, err := token.SignedString(t.keys.PrivateKey())
	if err != nil {
		return "", NewError(ErrCodeServerError, "failed to sign access token")
	}
	return signed, nil
}

func audienceContains(values jwt.ClaimStrings, target string) bool {
	for _, val := range values {
		if val == target {
			return true
		}
	}
	return false
}
