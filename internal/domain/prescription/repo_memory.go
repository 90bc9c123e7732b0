package prescription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pouchrx/pouchrx/pkg/pagination"
)

// MemoryRepo is the in-process Repository used by tests and --in-memory runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Prescription
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]Prescription)}
}

func (m *MemoryRepo) Create(_ context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.mu.Lock()
	m.items[p.ID] = *p
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryRepo) Update(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return ErrNotFound
	}
	m.items[p.ID] = *p
	return nil
}

func (m *MemoryRepo) AllByOwner(_ context.Context, ownerID uuid.UUID) ([]*Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Prescription
	for _, p := range m.items {
		if p.OwnerID == ownerID {
			cp := p
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	m.mu.RLock()
	var out []*Prescription
	for _, p := range m.items {
		if p.Status == status {
			cp := p
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	// Review queue is oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return pagination.Page(out, limit, offset), len(out), nil
}

func (m *MemoryRepo) ExpireDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.items {
		if p.Status == StatusActive && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			p.Status = StatusExpired
			m.items[id] = p
			n++
		}
	}
	return n, nil
}
