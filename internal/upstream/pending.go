// Package upstream implements the outbound half of the credential subsystem:
// in-flight OAuth exchanges toward the upstream calendar provider, and the
// callback handler that completes them.
package upstream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence-mcp/internal/crypto"
	"github.com/cadencehq/cadence-mcp/internal/logger"
	"github.com/cadencehq/cadence-mcp/internal/pkce"
)

const (
	// DefaultPendingTTL bounds how long a user has to complete the provider's
	// consent screen.
	DefaultPendingTTL = 10 * time.Minute

	// defaultCleanupInterval is how often expired entries are swept.
	defaultCleanupInterval = 5 * time.Minute

	// pendingSnapshotVersion tags the persisted document.
	pendingSnapshotVersion = 1
)

// PendingAuth is one in-flight outbound authorization: the CSRF state, the
// PKCE verifier to present at the token endpoint, and the redirect URI the
// flow started with.
type PendingAuth struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type pendingSnapshot struct {
	Version int            `json:"version"`
	Entries []*PendingAuth `json:"entries"`
}

// CreateResult is what the caller needs to redirect the user upstream.
type CreateResult struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

// PendingAuthStore tracks in-flight outbound exchanges. Memory is the source
// of truth; the encrypted file is a fire-and-forget snapshot so a restart
// does not strand users mid-consent. A failed persist is logged and dropped —
// losing a pending record only forces the user to restart an interactive
// flow.
type PendingAuthStore struct {
	mu      sync.Mutex
	entries map[string]*PendingAuth
	ttl     time.Duration

	enc  *crypto.EncryptionService
	path string

	cleanupStop chan struct{}
	closeOnce   sync.Once
}

// NewPendingAuthStore loads any persisted snapshot and starts the cleanup
// timer. A failed load never prevents startup; the store simply starts
// empty. ttl <= 0 means the 10-minute default.
func NewPendingAuthStore(enc *crypto.EncryptionService, path string, ttl time.Duration) *PendingAuthStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	s := &PendingAuthStore{
		entries:     make(map[string]*PendingAuth),
		ttl:         ttl,
		enc:         enc,
		path:        path,
		cleanupStop: make(chan struct{}),
	}
	s.load()
	go s.cleanupLoop(defaultCleanupInterval)
	return s
}

// Create generates a fresh PKCE pair and CSRF state for a new outbound flow.
// The entry is usable immediately; persistence happens in the background so
// the redirect to the provider is never blocked on disk.
func (s *PendingAuthStore) Create(redirectURI, userID string) (*CreateResult, error) {
	verifier, err := pkce.GenerateVerifier(pkce.DefaultVerifierLength)
	if err != nil {
		return nil, err
	}
	state := uuid.New().String()

	now := time.Now()
	entry := &PendingAuth{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.entries[state] = entry
	s.mu.Unlock()

	s.persistAsync()

	return &CreateResult{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: pkce.ChallengeFromVerifier(verifier),
	}, nil
}

// FindByState returns the pending entry for a callback, or nil if it is
// unknown or expired. An expired entry is deleted by the lookup that finds
// it.
func (s *PendingAuthStore) FindByState(state string) *PendingAuth {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(s.entries, state)
		return nil
	}
	cp := *entry
	return &cp
}

// Remove deletes an entry after its exchange completed and re-persists in the
// background.
func (s *PendingAuthStore) Remove(state string) {
	s.mu.Lock()
	delete(s.entries, state)
	s.mu.Unlock()
	s.persistAsync()
}

// CleanupExpired drops every expired entry, re-persisting once if anything
// changed. Returns the number removed.
func (s *PendingAuthStore) CleanupExpired() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for state, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, state)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.persistAsync()
		logger.Debugw("cleaned up expired pending authorizations", "removed", removed)
	}
	return removed
}

// Close stops the cleanup timer so the store never keeps the process alive.
func (s *PendingAuthStore) Close() {
	s.closeOnce.Do(func() { close(s.cleanupStop) })
}

// Persist writes the current table to the encrypted file synchronously. The
// background paths go through persistAsync; Persist exists for shutdown.
func (s *PendingAuthStore) Persist() error {
	s.mu.Lock()
	entries := make([]*PendingAuth, 0, len(s.entries))
	for _, entry := range s.entries {
		cp := *entry
		entries = append(entries, &cp)
	}
	s.mu.Unlock()

	plaintext, err := json.Marshal(pendingSnapshot{Version: pendingSnapshotVersion, Entries: entries})
	if err != nil {
		return err
	}
	return s.enc.EncryptToFile(plaintext, s.path)
}

func (s *PendingAuthStore) persistAsync() {
	go func() {
		if err := s.Persist(); err != nil {
			logger.Warnw("failed to persist pending authorizations", "error", err)
		}
	}()
}

// load repopulates memory from the encrypted snapshot, dropping unknown
// versions and anything already expired.
func (s *PendingAuthStore) load() {
	plaintext, err := s.enc.DecryptFromFile(s.path)
	if err != nil {
		logger.Warnw("failed to load pending authorizations, starting empty", "error", err)
		return
	}
	if plaintext == nil {
		return
	}

	var snap pendingSnapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		logger.Warnw("failed to parse pending authorizations, starting empty", "error", err)
		return
	}
	if snap.Version != pendingSnapshotVersion {
		logger.Warnw("ignoring pending authorizations with unknown version", "version", snap.Version)
		return
	}

	now := time.Now()
	loaded := 0
	s.mu.Lock()
	for _, entry := range snap.Entries {
		if now.After(entry.ExpiresAt) {
			continue
		}
		s.entries[entry.State] = entry
		loaded++
	}
	s.mu.Unlock()

	if loaded > 0 {
		logger.Infow("restored pending authorizations", "count", loaded)
	}
}

func (s *PendingAuthStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-s.cleanupStop:
			return
		}
	}
}
