package booking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

var testSlot = Slot{Date: time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), Window: WindowMorning}

func newRedisReservations(t *testing.T, capacity int) (*RedisReservations, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisReservations(client, capacity), mr
}

func TestRedisReservations_Capacity(t *testing.T) {
	r, _ := newRedisReservations(t, 3)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := r.Reserve(ctx, testSlot, uuid.New(), time.Minute)
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Len(t, seen, 3)

	_, err := r.Reserve(ctx, testSlot, uuid.New(), time.Minute)
	assert.ErrorIs(t, err, ErrSlotFull)

	other := Slot{Date: testSlot.Date, Window: WindowEvening}
	_, err = r.Reserve(ctx, other, uuid.New(), time.Minute)
	assert.NoError(t, err)
}

func TestRedisReservations_ExpiryFreesSeat(t *testing.T) {
	r, mr := newRedisReservations(t, 1)
	ctx := context.Background()

	_, err := r.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	require.NoError(t, err)
	_, err = r.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	require.ErrorIs(t, err, ErrSlotFull)

	mr.FastForward(10 * time.Minute)

	_, err = r.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	assert.NoError(t, err)
}

func TestRedisReservations_ConfirmPersists(t *testing.T) {
	r, mr := newRedisReservations(t, 1)
	ctx := context.Background()
	booking := uuid.New()

	id, err := r.Reserve(ctx, testSlot, booking, 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, r.Confirm(ctx, id, booking))

	assert.Equal(t, time.Duration(0), mr.TTL(id))
	mr.FastForward(time.Hour)
	assert.True(t, mr.Exists(id))
}

func TestRedisReservations_ConfirmWrongOwner(t *testing.T) {
	r, mr := newRedisReservations(t, 1)
	ctx := context.Background()

	id, err := r.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Confirm(ctx, id, uuid.New()), ErrReservationNotHeld)

	mr.FastForward(10 * time.Minute)
	assert.ErrorIs(t, r.Confirm(ctx, id, uuid.New()), ErrReservationNotHeld)
}

func TestRedisReservations_ReleaseOnlyByHolder(t *testing.T) {
	r, mr := newRedisReservations(t, 1)
	ctx := context.Background()
	booking := uuid.New()

	id, err := r.Reserve(ctx, testSlot, booking, 10*time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx, id, uuid.New()))
	assert.True(t, mr.Exists(id))

	require.NoError(t, r.Release(ctx, id, booking))
	assert.False(t, mr.Exists(id))
}

func TestMemoryReservations(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	m := NewMemoryReservations(clk, 2)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	idA, err := m.Reserve(ctx, testSlot, a, 10*time.Minute)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, testSlot, b, 10*time.Minute)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	require.ErrorIs(t, err, ErrSlotFull)
	assert.Equal(t, 2, m.Held(testSlot))

	require.NoError(t, m.Confirm(ctx, idA, a))
	clk.Advance(10 * time.Minute)

	assert.Equal(t, 1, m.Held(testSlot), "confirmed seat survives, unconfirmed one lapses")
	_, err = m.Reserve(ctx, testSlot, uuid.New(), 10*time.Minute)
	assert.NoError(t, err)
}
