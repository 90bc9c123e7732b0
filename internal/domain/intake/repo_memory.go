package intake

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	forms map[uuid.UUID][]Form
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{forms: make(map[uuid.UUID][]Form)}
}

func (m *MemoryRepo) Create(_ context.Context, f *Form) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	m.mu.Lock()
	m.forms[f.OwnerID] = append(m.forms[f.OwnerID], *f)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepo) Latest(_ context.Context, ownerID uuid.UUID) (*Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	forms := m.forms[ownerID]
	if len(forms) == 0 {
		return nil, ErrNotFound
	}
	latest := forms[0]
	for _, f := range forms[1:] {
		if !f.CreatedAt.Before(latest.CreatedAt) {
			latest = f
		}
	}
	return &latest, nil
}
