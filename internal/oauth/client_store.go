package oauth

import "sync"

// ClientStore persists registered OAuth clients. Save and Delete are
// synchronous: when they return, the mutation is durable (for stores that
// have durability at all). A lost registration cannot be retried
// transparently by client software, so registration never races a crash.
type ClientStore interface {
	Save(client *Client) error
	Get(clientID string) (*Client, error)
	Delete(clientID string) (bool, error)
	List() ([]*Client, error)
	Close() error
}

// MemoryClientStore is the ephemeral strategy, used in tests and dev.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryClientStore creates an empty in-memory client store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*Client)}
}

func (s *MemoryClientStore) Save(client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ClientID] = &cp
	return nil
}

func (s *MemoryClientStore) Get(clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}
	cp := *client
	return &cp, nil
}

func (s *MemoryClientStore) Delete(clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return false, nil
	}
	delete(s.clients, clientID)
	return true, nil
}

func (s *MemoryClientStore) List() ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		cp := *client
		list = append(list, &cp)
	}
	return list, nil
}

func (s *MemoryClientStore) Close() error {
	return nil
}
