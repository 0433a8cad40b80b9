package oauth

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cadencehq/cadence-mcp/internal/crypto"
	"github.com/cadencehq/cadence-mcp/internal/logger"
)

// clientSnapshotVersion tags the persisted document so future format changes
// can be detected on load.
const clientSnapshotVersion = 1

type clientSnapshot struct {
	Version int       `json:"version"`
	Entries []*Client `json:"entries"`
}

// FileClientStore is the durable strategy: the full client table lives in
// memory and is written back, encrypted, on every mutation. No incremental
// diffs; the table is small and registrations are rare.
type FileClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
	enc     *crypto.EncryptionService
	path    string
}

// NewFileClientStore loads the encrypted client table from path. A missing
// file starts empty; a corrupt file is a startup error because silently
// dropping registrations would strand deployed clients.
func NewFileClientStore(enc *crypto.EncryptionService, path string) (*FileClientStore, error) {
	store := &FileClientStore{
		clients: make(map[string]*Client),
		enc:     enc,
		path:    path,
	}

	plaintext, err := enc.DecryptFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load client store: %w", err)
	}
	if plaintext == nil {
		return store, nil
	}

	var snap clientSnapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse client store: %w", err)
	}
	if snap.Version != clientSnapshotVersion {
		logger.Warnw("ignoring client store with unknown version",
			"path", path,
			"version", snap.Version,
		)
		return store, nil
	}
	for _, client := range snap.Entries {
		store.clients[client.ClientID] = client
	}
	logger.Infow("loaded client registrations", "count", len(store.clients))
	return store, nil
}

func (s *FileClientStore) Save(client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ClientID] = &cp
	return s.persistLocked()
}

func (s *FileClientStore) Get(clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}
	cp := *client
	return &cp, nil
}

func (s *FileClientStore) Delete(clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return false, nil
	}
	delete(s.clients, clientID)
	return true, s.persistLocked()
}

func (s *FileClientStore) List() ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		cp := *client
		list = append(list, &cp)
	}
	return list, nil
}

func (s *FileClientStore) Close() error {
	return nil
}

// persistLocked writes the full table. Callers hold the write lock, so the
// snapshot is consistent with the mutation that triggered it.
func (s *FileClientStore) persistLocked() error {
	entries := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		entries = append(entries, client)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ClientID < entries[j].ClientID
	})

	plaintext, err := json.Marshal(clientSnapshot{Version: clientSnapshotVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to serialize client store: %w", err)
	}
	if err := s.enc.EncryptToFile(plaintext, s.path); err != nil {
		return fmt.Errorf("failed to persist client store: %w", err)
	}
	return nil
}
