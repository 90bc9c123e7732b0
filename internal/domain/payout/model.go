// Package payout keeps the ledger of what each doctor is owed for completed
// consultations.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("payout not found")
	ErrAlreadyPaid = errors.New("payout already paid")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

type Entry struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	BookingID   uuid.UUID  `json:"booking_id"`
	AmountMinor int64      `json:"amount_minor"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// Summary totals a doctor's ledger.
type Summary struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	Count        int       `json:"count"`
	PendingMinor int64     `json:"pending_minor"`
	PaidMinor    int64     `json:"paid_minor"`
	Pending      string    `json:"pending"`
	Paid         string    `json:"paid"`
}

func formatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// Repository stores ledger entries. Insert must be a no-op when an entry
// already exists for the booking.
type Repository interface {
	Insert(ctx context.Context, e *Entry) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	Totals(ctx context.Context, doctorID uuid.UUID) (count int, pending, paid int64, err error)
	MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) error
}
