package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Booking) error
	// GetByID loads the booking with its call attempts.
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	// ListUnassigned returns paid bookings no doctor has picked up, soonest first.
	ListUnassigned(ctx context.Context, limit, offset int) ([]*Booking, int, error)
	// ListExpiredPending returns pending_payment bookings whose reservation
	// expired at or before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*Booking, error)
	AddCallAttempt(ctx context.Context, a *CallAttempt) error
	ListCallAttempts(ctx context.Context, bookingID uuid.UUID) ([]CallAttempt, error)
	// LockForUpdate serialises writers of one booking within the ambient
	// transaction.
	LockForUpdate(ctx context.Context, id uuid.UUID) error
}
