package oauth

import (
	"sync"
	"time"

	"github.com/cadencehq/cadence-mcp/internal/logger"
)

// DefaultAuthCodeTTL is how long an issued code stays redeemable.
const DefaultAuthCodeTTL = 10 * time.Minute

// defaultCodeSweepInterval is how often used and expired codes are collected.
const defaultCodeSweepInterval = time.Minute

// IssueCodeOptions carries the authorization request parameters bound into a
// new code.
type IssueCodeOptions struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	UserID              string
}

// AuthCodeStore issues and redeems one-time authorization codes. All state is
// a single mutex-guarded table; validate-and-consume is one critical section
// so two concurrent redemptions of the same code cannot both succeed.
type AuthCodeStore struct {
	mu    sync.Mutex
	codes map[string]*AuthorizationCode
	ttl   time.Duration

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewAuthCodeStore creates a store with the given code TTL (0 means the
// default 10 minutes) and starts the background sweep.
func NewAuthCodeStore(ttl time.Duration) *AuthCodeStore {
	if ttl <= 0 {
		ttl = DefaultAuthCodeTTL
	}
	s := &AuthCodeStore{
		codes:     make(map[string]*AuthorizationCode),
		ttl:       ttl,
		sweepStop: make(chan struct{}),
	}
	go s.sweepLoop(defaultCodeSweepInterval)
	return s
}

// Issue generates a high-entropy code and records the request parameters.
func (s *AuthCodeStore) Issue(opts IssueCodeOptions) (string, error) {
	code, err := RandomString(32)
	if err != nil {
		return "", NewError(ErrCodeServerError, "failed to generate authorization code")
	}

	now := time.Now()
	record := &AuthorizationCode{
		Code:                code,
		ClientID:            opts.ClientID,
		RedirectURI:         opts.RedirectURI,
		Scope:               opts.Scope,
		CodeChallenge:       opts.CodeChallenge,
		CodeChallengeMethod: opts.CodeChallengeMethod,
		Resource:            opts.Resource,
		UserID:              opts.UserID,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}

	s.mu.Lock()
	s.codes[code] = record
	s.mu.Unlock()
	return code, nil
}

// Validate checks that a code exists, is unused, unexpired, and belongs to
// the presenting client. Expired codes are deleted on the spot rather than
// waiting for the sweep. The returned record is a copy.
func (s *AuthCodeStore) Validate(code, clientID string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(code, clientID)
}

// Consume validates and then atomically marks the code used. The lookup and
// the used flip share one lock acquisition.
func (s *AuthCodeStore) Consume(code, clientID string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.validateLocked(code, clientID)
	if err != nil {
		return nil, err
	}
	s.codes[code].Used = true
	return data, nil
}

// Revoke unconditionally deletes a code. Used by explicit cancellation paths.
func (s *AuthCodeStore) Revoke(code string) {
	s.mu.Lock()
	delete(s.codes, code)
	s.mu.Unlock()
}

// Sweep removes every expired or already-used code and returns how many were
// collected.
func (s *AuthCodeStore) Sweep() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for code, record := range s.codes {
		if record.Used || now.After(record.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Close stops the background sweep. The store remains usable; only the timer
// dies, so tests and shutdown don't leak goroutines.
func (s *AuthCodeStore) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
}

func (s *AuthCodeStore) validateLocked(code, clientID string) (*AuthorizationCode, error) {
	record, ok := s.codes[code]
	if !ok {
		return nil, NewError(ErrCodeInvalidGrant, "unknown authorization code")
	}
	if record.Used {
		return nil, NewError(ErrCodeInvalidGrant, "authorization code already used")
	}
	if time.Now().After(record.ExpiresAt) {
		delete(s.codes, code)
		return nil, NewError(ErrCodeInvalidGrant, "authorization code expired")
	}
	if record.ClientID != clientID {
		return nil, NewError(ErrCodeInvalidGrant, "authorization code was issued to a different client")
	}
	cp := *record
	return &cp, nil
}

func (s *AuthCodeStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Debugw("swept authorization codes", "removed", removed)
			}
		case <-s.sweepStop:
			return
		}
	}
}
