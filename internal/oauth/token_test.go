package oauth

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeys     *KeyManager
	testKeysErr  error
)

// testKeyManager returns a process-wide RSA key pair so each test doesn't pay
// for key generation.
func testKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	testKeysOnce.Do(func() {
		privatePEM, _, err := GenerateKeyPair()
		if err != nil {
			testKeysErr = err
			return
		}
		testKeys, testKeysErr = NewKeyManager(privatePEM)
	})
	require.NoError(t, testKeysErr)
	return testKeys
}

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService("https://auth.example.com", testKeyManager(t), "1h", "30d")
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RejectsBadTTLs(t *testing.T) {
	keys := testKeyManager(t)

	_, err := NewTokenService("https://auth.example.com", keys, "forever", "30d")
	assert.Error(t, err)

	_, err = NewTokenService("https://auth.example.com", keys, "1h", "30x")
	assert.Error(t, err)
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	svc := newTestTokenService(t)

	resp, err := svc.IssueAccessToken("client_abc", "user-1", "calendar:read", "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Empty(t, resp.RefreshToken)

	claims, err := svc.VerifyAccessToken(resp.AccessToken, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "client_abc", claims.ClientID)
	assert.Equal(t, "calendar:read", claims.Scope)
	assert.NotEmpty(t, claims.ID, "every token carries a unique jti")
}

func TestVerifyAccessToken_TamperedPayload(t *testing.T) {
	svc := newTestTokenService(t)

	resp, err := svc.IssueAccessToken("client_abc", "user-1", "calendar:read", "aud")
	require.NoError(t, err)

	// Flipping any single character must invalidate the token.
	token := resp.AccessToken
	for _, idx := range []int{5, len(token) / 2, len(token) - 3} {
		mutated := []byte(token)
		if mutated[idx] == 'A' {
			mutated[idx] = 'B'
		} else {
			mutated[idx] = 'A'
		}
		if string(mutated) == token {
			continue
		}
		_, err := svc.VerifyAccessToken(string(mutated), "aud")
		require.Error(t, err, "tampered at index %d", idx)
		assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
	}
}

func TestVerifyAccessToken_WrongKey(t *testing.T) {
	svc := newTestTokenService(t)

	otherPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)
	otherKeys, err := NewKeyManager(otherPEM)
	require.NoError(t, err)
	otherSvc, err := NewTokenService("https://auth.example.com", otherKeys, "1h", "30d")
	require.NoError(t, err)

	resp, err := otherSvc.IssueAccessToken("client_abc", "user-1", "", "aud")
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(resp.AccessToken, "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	svc := newTestTokenService(t)

	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    svc.issuer,
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"aud"},
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		ClientID: "client_abc",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(svc.keys.PrivateKey())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(signed, "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyAccessToken_IssuerMismatch(t *testing.T) {
	svc := newTestTokenService(t)

	other, err := NewTokenService("https://other.example.com", testKeyManager(t), "1h", "30d")
	require.NoError(t, err)

	resp, err := other.IssueAccessToken("client_abc", "user-1", "", "aud")
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(resp.AccessToken, "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
}

func TestVerifyAccessToken_AudienceMismatch(t *testing.T) {
	svc := newTestTokenService(t)

	resp, err := svc.IssueAccessToken("client_abc", "user-1", "", "https://api.example.com")
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(resp.AccessToken, "https://elsewhere.example.com")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))

	// Empty expected audience skips the check.
	_, err = svc.VerifyAccessToken(resp.AccessToken, "")
	assert.NoError(t, err)
}

func TestVerifyAccessToken_RejectsNonJWT(t *testing.T) {
	svc := newTestTokenService(t)

	for _, garbage := range []string{"", "abc", "a.b", "a.b.c.d", "not a token at all"} {
		_, err := svc.VerifyAccessToken(garbage, "aud")
		require.Error(t, err, "input %q", garbage)
		assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
	}
}

func TestVerifyAccessToken_RejectsUnsignedAlg(t *testing.T) {
	svc := newTestTokenService(t)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    svc.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(signed, "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidToken, ErrorCode(err))
}

func TestIssueTokenPairAndRefresh(t *testing.T) {
	svc := newTestTokenService(t)

	pair, err := svc.IssueTokenPair("client_abc", "user-1", "calendar:read", "aud")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	rotated, err := svc.RefreshAccessToken(pair.RefreshToken, "client_abc", "aud")
	require.NoError(t, err)
	require.NotEmpty(t, rotated.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken, "refresh tokens rotate on use")

	claims, err := svc.VerifyAccessToken(rotated.AccessToken, "aud")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "calendar:read", claims.Scope)

	// The consumed token is dead.
	_, err = svc.RefreshAccessToken(pair.RefreshToken, "client_abc", "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))
}

func TestRefreshAccessToken_CrossClient(t *testing.T) {
	svc := newTestTokenService(t)

	pair, err := svc.IssueTokenPair("client_abc", "user-1", "", "aud")
	require.NoError(t, err)

	_, err = svc.RefreshAccessToken(pair.RefreshToken, "client_other", "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))
}

func TestRevokeRefreshToken(t *testing.T) {
	svc := newTestTokenService(t)

	pair, err := svc.IssueTokenPair("client_abc", "user-1", "", "aud")
	require.NoError(t, err)

	svc.RevokeRefreshToken(pair.RefreshToken)

	_, err = svc.RefreshAccessToken(pair.RefreshToken, "client_abc", "aud")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))
}

func TestRefreshTokenStore_ExpiredAndSweep(t *testing.T) {
	store := NewRefreshTokenStore()

	store.Save(&RefreshToken{
		TokenHash: HashToken("expired"),
		ClientID:  "client_abc",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	store.Save(&RefreshToken{
		TokenHash: HashToken("live"),
		ClientID:  "client_abc",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})

	_, err := store.Consume(HashToken("expired"), "client_abc")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))

	_, err = store.Consume(HashToken("live"), "client_abc")
	require.NoError(t, err)

	// The live token was revoked by Consume; the sweep collects it.
	assert.Equal(t, 1, store.Sweep())
}

func TestExtractTokenFromHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"  Bearer   abc123  ", "abc123"},
		{"Bearer", ""},
		{"Basic abc123", ""},
		{"Bearer abc 123", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTokenFromHeader(tt.header), "header %q", tt.header)
	}
}
