package registry

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// InMemory is a registry fake for tests and local development.
type InMemory struct {
	mu      sync.RWMutex
	clients map[id.ClientRef]Client
}

func NewInMemory() *InMemory {
	return &InMemory{clients: make(map[id.ClientRef]Client)}
}

// Add seeds a client record.
func (m *InMemory) Add(client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
}

func (m *InMemory) Lookup(_ context.Context, clientID id.ClientRef) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[clientID]
	if !ok {
		return Client{}, sentinel.ErrNotFound
	}
	return client, nil
}
