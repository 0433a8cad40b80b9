package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTTL is the fixed lifetime of an authenticated-user session. The
// session only bridges the interactive consent step to code issuance.
const SessionTTL = 24 * time.Hour

// SessionStore tracks short-lived authenticated-user sessions.
type SessionStore interface {
	CreateSession(userID string) (*Session, error)
	GetSession(sessionID string) (*Session, error)
	DeleteSession(sessionID string) error
}

// MemorySessionStore keeps sessions in a mutex-guarded map and expires them
// lazily on read.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) CreateSession(userID string) (*Session, error) {
	sessionID, err := RandomString(32)
	if err != nil {
		return nil, NewError(ErrCodeServerError, "failed to generate session id")
	}

	now := time.Now()
	session := &Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	cp := *session
	return &cp, nil
}

// GetSession returns nil for unknown sessions; a session past its expiry is
// deleted during the same lookup that discovers it.
func (s *MemorySessionStore) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(session.ExpiresAt) {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *MemorySessionStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// RedisSessionStore keeps sessions in Redis, letting key expiry do the TTL
// work. Used when several processes share the consent flow.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore connects to Redis using a redis:// URL.
func NewRedisSessionStore(redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisSessionStore{client: client}, nil
}

func (s *RedisSessionStore) CreateSession(userID string) (*Session, error) {
	sessionID, err := RandomString(32)
	if err != nil {
		return nil, NewError(ErrCodeServerError, "failed to generate session id")
	}

	now := time.Now()
	session := &Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, NewError(ErrCodeServerError, "failed to serialize session")
	}
	if err := s.client.Set(context.Background(), sessionKey(sessionID), payload, SessionTTL).Err(); err != nil {
		return nil, NewError(ErrCodeServerError, "failed to store session")
	}
	return session, nil
}

func (s *RedisSessionStore) GetSession(sessionID string) (*Session, error) {
	val, err := s.client.Get(context.Background(), sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, NewError(ErrCodeServerError, "session lookup failed")
	}

	var session Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, NewError(ErrCodeServerError, "failed to parse session")
	}
	// Redis expiry is authoritative, but guard against clock drift anyway.
	if time.Now().After(session.ExpiresAt) {
		_ = s.client.Del(context.Background(), sessionKey(sessionID)).Err()
		return nil, nil
	}
	return &session, nil
}

func (s *RedisSessionStore) DeleteSession(sessionID string) error {
	return s.client.Del(context.Background(), sessionKey(sessionID)).Err()
}

// Close releases the Redis connection.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func sessionKey(sessionID string) string {
	return "oauth:session:" + sessionID
}
