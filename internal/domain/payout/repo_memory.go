package payout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepo struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]Entry
	byBooking map[uuid.UUID]uuid.UUID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		entries:   make(map[uuid.UUID]Entry),
		byBooking: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryRepo) Insert(_ context.Context, e *Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byBooking[e.BookingID]; ok {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries[e.ID] = *e
	m.byBooking[e.BookingID] = e.ID
	return true, nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	m.mu.RLock()
	var all []*Entry
	for _, e := range m.entries {
		if e.DoctorID == doctorID {
			e := e
			all = append(all, &e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepo) Totals(_ context.Context, doctorID uuid.UUID) (int, int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		count         int
		pending, paid int64
	)
	for _, e := range m.entries {
		if e.DoctorID != doctorID {
			continue
		}
		count++
		if e.Status == StatusPaid {
			paid += e.AmountMinor
		} else {
			pending += e.AmountMinor
		}
	}
	return count, pending, paid, nil
}

func (m *MemoryRepo) MarkPaid(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusPaid {
		return ErrAlreadyPaid
	}
	e.Status = StatusPaid
	e.PaidAt = &at
	m.entries[id] = e
	return nil
}
