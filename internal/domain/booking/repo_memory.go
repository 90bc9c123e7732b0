package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is the in-process Repository used by tests and --in-memory runs.
type MemoryRepo struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]Booking
	attempts map[uuid.UUID][]CallAttempt
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		bookings: make(map[uuid.UUID]Booking),
		attempts: make(map[uuid.UUID][]CallAttempt),
	}
}

func (m *MemoryRepo) load(b Booking) *Booking {
	b.CallAttempts = append([]CallAttempt{}, m.attempts[b.ID]...)
	return &b
}

func (m *MemoryRepo) Create(_ context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.mu.Lock()
	cp := *b
	cp.CallAttempts = nil
	m.bookings[b.ID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.load(b), nil
}

func (m *MemoryRepo) Update(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	cp.CallAttempts = nil
	m.bookings[b.ID] = cp
	return nil
}

func (m *MemoryRepo) filter(keep func(Booking) bool, limit, offset int) ([]*Booking, int) {
	m.mu.RLock()
	var all []*Booking
	for _, b := range m.bookings {
		if keep(b) {
			all = append(all, m.load(b))
		}
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		return all[i].ScheduledStart().Before(all[j].ScheduledStart())
	})
	total := len(all)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total
}

func (m *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	items, total := m.filter(func(b Booking) bool { return b.PatientID == patientID }, limit, offset)
	return items, total, nil
}

func (m *MemoryRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	items, total := m.filter(func(b Booking) bool { return b.DoctorID != nil && *b.DoctorID == doctorID }, limit, offset)
	return items, total, nil
}

func (m *MemoryRepo) ListUnassigned(_ context.Context, limit, offset int) ([]*Booking, int, error) {
	items, total := m.filter(func(b Booking) bool { return b.DoctorID == nil && b.Status == StatusBooked }, limit, offset)
	return items, total, nil
}

func (m *MemoryRepo) ListExpiredPending(_ context.Context, now time.Time) ([]*Booking, error) {
	items, _ := m.filter(func(b Booking) bool {
		return b.Status == StatusPendingPayment && b.ReservationExpiresAt != nil && !b.ReservationExpiresAt.After(now)
	}, 0, 0)
	return items, nil
}

func (m *MemoryRepo) AddCallAttempt(_ context.Context, a *CallAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[a.BookingID]; !ok {
		return ErrNotFound
	}
	m.attempts[a.BookingID] = append(m.attempts[a.BookingID], *a)
	return nil
}

func (m *MemoryRepo) ListCallAttempts(_ context.Context, bookingID uuid.UUID) ([]CallAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CallAttempt{}, m.attempts[bookingID]...), nil
}

func (m *MemoryRepo) LockForUpdate(_ context.Context, id uuid.UUID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.bookings[id]; !ok {
		return ErrNotFound
	}
	return nil
}
