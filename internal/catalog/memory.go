package catalog

import (
	"context"
	"sync"

	"github.com/podushkina/moderation/internal/fault"
)

// Memory is an in-process Repository. A non-nil Err is returned from every
// lookup, which lets callers simulate an unreachable backend.
type Memory struct {
	mu       sync.RWMutex
	listings map[int64]Listing
	sellers  map[int64]Seller
	Err      error
}

func NewMemory() *Memory {
	return &Memory{
		listings: make(map[int64]Listing),
		sellers:  make(map[int64]Seller),
	}
}

func (m *Memory) PutSeller(s Seller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers[s.ID] = s
}

func (m *Memory) PutListing(l Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
}

func (m *Memory) DeleteSeller(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sellers, id)
}

func (m *Memory) GetListing(ctx context.Context, id int64) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	l, ok := m.listings[id]
	if !ok {
		return nil, fault.NotFound("listing %d", id)
	}
	return &l, nil
}

func (m *Memory) GetSeller(ctx context.Context, id int64) (*Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.sellers[id]
	if !ok {
		return nil, fault.NotFound("seller %d", id)
	}
	return &s, nil
}
