package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

// ReservationStore holds seats in a time window. A window has a fixed number
// of seats; a reservation occupies one until it expires, is released, or is
// confirmed (after which it no longer expires).
type ReservationStore interface {
	Reserve(ctx context.Context, slot Slot, bookingID uuid.UUID, ttl time.Duration) (string, error)
	Confirm(ctx context.Context, reservationID string, bookingID uuid.UUID) error
	Release(ctx context.Context, reservationID string, bookingID uuid.UUID) error
}

func seatKey(slot Slot, seat int) string {
	return fmt.Sprintf("slot:%s:%d", slot.Key(), seat)
}

var (
	confirmScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PERSIST", KEYS[1])
end
return -1`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type RedisReservations struct {
	client   *redis.Client
	capacity int
}

func NewRedisReservations(client *redis.Client, capacity int) *RedisReservations {
	if capacity < 1 {
		capacity = 1
	}
	return &RedisReservations{client: client, capacity: capacity}
}

func (r *RedisReservations) Reserve(ctx context.Context, slot Slot, bookingID uuid.UUID, ttl time.Duration) (string, error) {
	for seat := 1; seat <= r.capacity; seat++ {
		key := seatKey(slot, seat)
		ok, err := r.client.SetNX(ctx, key, bookingID.String(), ttl).Result()
		if err != nil {
			return "", fmt.Errorf("reserve %s: %w", key, err)
		}
		if ok {
			return key, nil
		}
	}
	return "", ErrSlotFull
}

func (r *RedisReservations) Confirm(ctx context.Context, reservationID string, bookingID uuid.UUID) error {
	n, err := confirmScript.Run(ctx, r.client, []string{reservationID}, bookingID.String()).Int()
	if err != nil {
		return fmt.Errorf("confirm %s: %w", reservationID, err)
	}
	if n < 0 {
		return ErrReservationNotHeld
	}
	return nil
}

func (r *RedisReservations) Release(ctx context.Context, reservationID string, bookingID uuid.UUID) error {
	if err := releaseScript.Run(ctx, r.client, []string{reservationID}, bookingID.String()).Err(); err != nil {
		return fmt.Errorf("release %s: %w", reservationID, err)
	}
	return nil
}

type hold struct {
	bookingID uuid.UUID
	expiresAt time.Time // zero once confirmed
}

// MemoryReservations is the in-process ReservationStore. Expiry is checked
// against the injected clock on access.
type MemoryReservations struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity int
	holds    map[string]hold
}

func NewMemoryReservations(clk clock.Clock, capacity int) *MemoryReservations {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryReservations{clock: clk, capacity: capacity, holds: make(map[string]hold)}
}

func (m *MemoryReservations) live(key string) (hold, bool) {
	h, ok := m.holds[key]
	if !ok {
		return hold{}, false
	}
	if !h.expiresAt.IsZero() && !m.clock.Now().Before(h.expiresAt) {
		delete(m.holds, key)
		return hold{}, false
	}
	return h, true
}

func (m *MemoryReservations) Reserve(_ context.Context, slot Slot, bookingID uuid.UUID, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for seat := 1; seat <= m.capacity; seat++ {
		key := seatKey(slot, seat)
		if _, taken := m.live(key); taken {
			continue
		}
		m.holds[key] = hold{bookingID: bookingID, expiresAt: m.clock.Now().Add(ttl)}
		return key, nil
	}
	return "", ErrSlotFull
}

func (m *MemoryReservations) Confirm(_ context.Context, reservationID string, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.live(reservationID)
	if !ok || h.bookingID != bookingID {
		return ErrReservationNotHeld
	}
	h.expiresAt = time.Time{}
	m.holds[reservationID] = h
	return nil
}

func (m *MemoryReservations) Release(_ context.Context, reservationID string, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[reservationID]; ok && h.bookingID == bookingID {
		delete(m.holds, reservationID)
	}
	return nil
}

// Held reports how many seats in slot are currently taken.
func (m *MemoryReservations) Held(slot Slot) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for seat := 1; seat <= m.capacity; seat++ {
		if _, ok := m.live(seatKey(slot, seat)); ok {
			n++
		}
	}
	return n
}
