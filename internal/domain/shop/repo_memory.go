package shop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOrderRepo is the in-process OrderRepository used by tests and
// --in-memory runs.
type MemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]Order
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[uuid.UUID]Order)}
}

func copyOrder(o Order) *Order {
	o.LineItems = append([]Line(nil), o.LineItems...)
	return &o
}

func (m *MemoryOrderRepo) Create(_ context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.mu.Lock()
	m.orders[o.ID] = *copyOrder(*o)
	m.mu.Unlock()
	return nil
}

func (m *MemoryOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryOrderRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	m.mu.RLock()
	var all []*Order
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			all = append(all, copyOrder(o))
		}
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	m.orders[id] = o
	return nil
}

func (m *MemoryOrderRepo) ConsumedQuantity(_ context.Context, ownerID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			n += o.TotalQuantity
		}
	}
	return n, nil
}

// LockOwner is a no-op; there is no ambient transaction to hold a lock in.
func (m *MemoryOrderRepo) LockOwner(context.Context, uuid.UUID) error { return nil }
