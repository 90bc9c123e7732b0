package payout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

type Service struct {
	repo   Repository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{repo: repo, clock: clk, logger: logger.With().Str("component", "payout").Logger()}
}

// RecordConsultation credits doctorID for bookingID. Repeating it for the
// same booking leaves the ledger unchanged.
func (s *Service) RecordConsultation(ctx context.Context, doctorID, bookingID uuid.UUID, amountMinor int64) error {
	if amountMinor < 0 {
		return fmt.Errorf("payout amount must not be negative, got %d", amountMinor)
	}
	e := &Entry{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		BookingID:   bookingID,
		AmountMinor: amountMinor,
		Status:      StatusPending,
		CreatedAt:   s.clock.Now(),
	}
	created, err := s.repo.Insert(ctx, e)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Debug().Str("booking_id", bookingID.String()).Msg("payout already recorded")
		return nil
	}
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("booking_id", bookingID.String()).
		Int64("amount_minor", amountMinor).
		Msg("payout recorded")
	return nil
}

// doctorFor resolves whose ledger to read: the caller, or any doctor when
// an admin names one.
func doctorFor(ctx context.Context, requested uuid.UUID) (uuid.UUID, error) {
	caller, err := auth.RequireUser(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if requested != uuid.Nil && auth.HasRole(ctx, auth.RoleAdmin) {
		return requested, nil
	}
	return caller, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	id, err := doctorFor(ctx, doctorID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByDoctor(ctx, id, limit, offset)
}

func (s *Service) Summary(ctx context.Context, doctorID uuid.UUID) (*Summary, error) {
	id, err := doctorFor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	count, pending, paid, err := s.repo.Totals(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Summary{
		DoctorID:     id,
		Count:        count,
		PendingMinor: pending,
		PaidMinor:    paid,
		Pending:      formatMinor(pending),
		Paid:         formatMinor(paid),
	}, nil
}

func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Entry, error) {
	if err := s.repo.MarkPaid(ctx, id, s.clock.Now()); err != nil {
		return nil, err
	}
	s.logger.Info().Str("payout_id", id.String()).Msg("payout marked paid")
	return s.repo.GetByID(ctx, id)
}
