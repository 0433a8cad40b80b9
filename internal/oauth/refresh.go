package oauth

import (
	"sync"
	"time"
)

// RefreshTokenStore tracks opaque refresh tokens by hash. Rotation semantics
// live here: Consume validates and revokes in one critical section.
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

// NewRefreshTokenStore creates an empty store.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[string]*RefreshToken)}
}

// Save records a freshly minted refresh token.
func (s *RefreshTokenStore) Save(token *RefreshToken) {
	s.mu.Lock()
	s.tokens[token.TokenHash] = token
	s.mu.Unlock()
}

// Consume validates a presented token hash and revokes it atomically. An
// unknown, revoked, expired, or cross-client token fails with invalid_grant.
func (s *RefreshTokenStore) Consume(tokenHash, clientID string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[tokenHash]
	if !ok {
		return nil, NewError(ErrCodeInvalidGrant, "unknown refresh token")
	}
	if record.RevokedAt != nil {
		return nil, NewError(ErrCodeInvalidGrant, "refresh token revoked")
	}
	if time.Now().After(record.ExpiresAt) {
		delete(s.tokens, tokenHash)
		return nil, NewError(ErrCodeInvalidGrant, "refresh token expired")
	}
	if record.ClientID != clientID {
		return nil, NewError(ErrCodeInvalidGrant, "refresh token was issued to a different client")
	}

	now := time.Now()
	record.RevokedAt = &now
	cp := *record
	return &cp, nil
}

// Revoke marks a token revoked if it exists.
func (s *RefreshTokenStore) Revoke(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.tokens[tokenHash]; ok && record.RevokedAt == nil {
		now := time.Now()
		record.RevokedAt = &now
	}
}

// Sweep removes expired and revoked tokens, returning the count removed.
func (s *RefreshTokenStore) Sweep() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for hash, record := range s.tokens {
		if record.RevokedAt != nil || now.After(record.ExpiresAt) {
			delete(s.tokens, hash)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}
