// Package storage persists upstream provider tokens per user. It is the
// token-storage collaborator the callback handler hands completed exchanges
// to.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cadencehq/cadence-mcp/internal/crypto"
	"github.com/cadencehq/cadence-mcp/internal/logger"
)

const tokenSnapshotVersion = 1

// TokenSet is one user's upstream credential set.
type TokenSet struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	LinkedAt     time.Time `json:"linked_at"`
}

type tokenSnapshot struct {
	Version int         `json:"version"`
	Entries []*TokenSet `json:"entries"`
}

// UpstreamTokenStore keeps the table in memory and writes the full table
// back, encrypted, on every mutation. Losing an upstream refresh token means
// the user must re-consent, so writes are synchronous.
type UpstreamTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*TokenSet
	enc    *crypto.EncryptionService
	path   string
}

// NewUpstreamTokenStore loads the encrypted token table. A missing or
// unreadable file starts the store empty; the user re-links their calendar.
func NewUpstreamTokenStore(enc *crypto.EncryptionService, path string) *UpstreamTokenStore {
	store := &UpstreamTokenStore{
		tokens: make(map[string]*TokenSet),
		enc:    enc,
		path:   path,
	}

	plaintext, err := enc.DecryptFromFile(path)
	if err != nil {
		logger.Warnw("failed to load upstream tokens, starting empty", "error", err)
		return store
	}
	if plaintext == nil {
		return store
	}

	var snap tokenSnapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		logger.Warnw("failed to parse upstream tokens, starting empty", "error", err)
		return store
	}
	if snap.Version != tokenSnapshotVersion {
		logger.Warnw("ignoring upstream tokens with unknown version", "version", snap.Version)
		return store
	}
	for _, entry := range snap.Entries {
		store.tokens[entry.UserID] = entry
	}
	logger.Infow("loaded upstream token sets", "count", len(store.tokens))
	return store
}

// StoreTokens implements the callback handler's sink contract.
func (s *UpstreamTokenStore) StoreTokens(_ context.Context, userID string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[userID] = &TokenSet{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		LinkedAt:     time.Now(),
	}
	return s.persistLocked()
}

// GetTokens returns the user's token set or nil when the account is not
// linked.
func (s *UpstreamTokenStore) GetTokens(userID string) *TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tokens[userID]
	if !ok {
		return nil
	}
	cp := *entry
	return &cp
}

// DeleteTokens unlinks a user's upstream account.
func (s *UpstreamTokenStore) DeleteTokens(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[userID]; !ok {
		return nil
	}
	delete(s.tokens, userID)
	return s.persistLocked()
}

func (s *UpstreamTokenStore) persistLocked() error {
	entries := make([]*TokenSet, 0, len(s.tokens))
	for _, entry := range s.tokens {
		entries = append(entries, entry)
	}

	plaintext, err := json.Marshal(tokenSnapshot{Version: tokenSnapshotVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to serialize upstream tokens: %w", err)
	}
	if err := s.enc.EncryptToFile(plaintext, s.path); err != nil {
		return fmt.Errorf("failed to persist upstream tokens: %w", err)
	}
	return nil
}
