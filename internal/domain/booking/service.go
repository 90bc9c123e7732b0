package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
	"github.com/pouchrx/pouchrx/internal/platform/db"
	"github.com/pouchrx/pouchrx/internal/platform/payment"
)

// PayoutRecorder credits a doctor for a completed consultation. It must be
// idempotent per booking.
type PayoutRecorder interface {
	RecordConsultation(ctx context.Context, doctorID, bookingID uuid.UUID, amountMinor int64) error
}

// IntakeGate reports whether a patient's latest intake allows booking.
type IntakeGate interface {
	Eligibility(ctx context.Context, patientID uuid.UUID) (bool, string, error)
}

type Settings struct {
	ReservationTTL      time.Duration
	RescheduleMinNotice time.Duration
	FeeMinor            int64
	PayoutMinor         int64
	Currency            string
}

func DefaultSettings() Settings {
	return Settings{
		ReservationTTL:      10 * time.Minute,
		RescheduleMinNotice: 24 * time.Hour,
		FeeMinor:            4900,
		PayoutMinor:         3500,
		Currency:            "usd",
	}
}

type Service struct {
	repo         Repository
	reservations ReservationStore
	payments     payment.Gateway
	payouts      PayoutRecorder
	intake       IntakeGate
	tx           db.Transactor
	clock        clock.Clock
	settings     Settings
	logger       zerolog.Logger
}

func NewService(repo Repository, reservations ReservationStore, payments payment.Gateway, payouts PayoutRecorder,
	intake IntakeGate, tx db.Transactor, clk clock.Clock, settings Settings, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoopTransactor{}
	}
	return &Service{
		repo:         repo,
		reservations: reservations,
		payments:     payments,
		payouts:      payouts,
		intake:       intake,
		tx:           tx,
		clock:        clk,
		settings:     settings,
		logger:       logger.With().Str("component", "booking").Logger(),
	}
}

type CreateRequest struct {
	ScheduledDate string `json:"scheduled_date"`
	TimeWindow    string `json:"time_window"`
}

type CreateResult struct {
	Booking     *Booking `json:"booking"`
	CheckoutURL string   `json:"checkout_url"`
}

type Countdown struct {
	BookingID        uuid.UUID  `json:"booking_id"`
	Status           Status     `json:"status"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Expired          bool       `json:"expired"`
}

type RescheduleResult struct {
	Decision Decision `json:"decision"`
	Original *Booking `json:"original"`
	Booking  *Booking `json:"booking,omitempty"`
}

type NoShowResult struct {
	Decision Decision `json:"decision"`
	Booking  *Booking `json:"booking"`
}

// load fetches a booking the caller may see: its patient, or any doctor.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Booking, uuid.UUID, error) {
	caller, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if b.PatientID != caller && !auth.HasRole(ctx, auth.RoleDoctor) {
		return nil, uuid.Nil, ErrNotFound
	}
	return b, caller, nil
}

// loadOwned additionally requires the caller to be the patient or an admin.
func (s *Service) loadOwned(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, caller, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PatientID != caller && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return b, nil
}

// loadAssigned requires the caller to be the booking's doctor or an admin.
func (s *Service) loadAssigned(ctx context.Context, id uuid.UUID) (*Booking, uuid.UUID, error) {
	b, caller, err := s.load(ctx, id)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return b, caller, nil
	}
	if b.DoctorID == nil || *b.DoctorID != caller {
		return nil, uuid.Nil, ErrForbidden
	}
	return b, caller, nil
}

// Create reserves a seat in the requested window and opens a payment
// session. The booking waits in pending_payment until ConfirmPayment or
// until the reservation lapses.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	patient, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	slot, err := ParseSlot(req.ScheduledDate, req.TimeWindow)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !slot.Start().After(now) {
		return nil, fmt.Errorf("%w: time window has already started", ErrInvalidRequest)
	}
	if s.intake != nil {
		ok, reason, err := s.intake.Eligibility(ctx, patient)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrIntakeIneligible, reason)
		}
	}

	id := uuid.New()
	reservationID, err := s.reservations.Reserve(ctx, slot, id, s.settings.ReservationTTL)
	if err != nil {
		return nil, err
	}
	release := func() {
		if err := s.reservations.Release(ctx, reservationID, id); err != nil {
			s.logger.Warn().Err(err).Str("reservation_id", reservationID).Msg("release after failed create")
		}
	}

	session, err := s.payments.CreateSession(ctx, payment.CreateSessionRequest{
		BookingID:   id.String(),
		CustomerID:  patient.String(),
		AmountMinor: s.settings.FeeMinor,
		Currency:    s.settings.Currency,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	expires := now.Add(s.settings.ReservationTTL)
	b := &Booking{
		ID:                   id,
		PatientID:            patient,
		ScheduledDate:        slot.Date,
		TimeWindow:           slot.Window,
		Status:               StatusPendingPayment,
		ReservationID:        &reservationID,
		ReservationExpiresAt: &expires,
		PaymentSessionID:     &session.ID,
		FeeMinor:             s.settings.FeeMinor,
		CallAttempts:         []CallAttempt{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		release()
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", id.String()).
		Str("slot", slot.Key()).
		Time("reservation_expires_at", expires).
		Msg("booking reserved")
	return &CreateResult{Booking: b, CheckoutURL: session.URL}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, _, err := s.load(ctx, id)
	return b, err
}

func (s *Service) ListMine(ctx context.Context, limit, offset int) ([]*Booking, int, error) {
	caller, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, caller, limit, offset)
}

func (s *Service) ListAssigned(ctx context.Context, limit, offset int) ([]*Booking, int, error) {
	caller, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByDoctor(ctx, caller, limit, offset)
}

func (s *Service) ListUnassigned(ctx context.Context, limit, offset int) ([]*Booking, int, error) {
	return s.repo.ListUnassigned(ctx, limit, offset)
}

func reservationLapsed(b *Booking, now time.Time) bool {
	return b.Status == StatusPendingPayment && b.ReservationExpiresAt != nil && !now.Before(*b.ReservationExpiresAt)
}

// transition applies fn to a row-locked, freshly read copy of the booking
// and stores the result. fn sees the committed state, not a caller's
// earlier snapshot.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(*Booking) error) (*Booking, error) {
	var out *Booking
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockForUpdate(ctx, id); err != nil {
			return err
		}
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		out = current
		return s.repo.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// expire cancels a pending booking whose reservation ran out and frees the
// seat. A booking confirmed in the meantime is left alone.
func (s *Service) expire(ctx context.Context, b *Booking) error {
	now := s.clock.Now()
	fresh, err := s.transition(ctx, b.ID, func(cur *Booking) error {
		if !reservationLapsed(cur, now) {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, EventReservationExpired, cur.Status)
		}
		if err := cur.apply(EventReservationExpired, now); err != nil {
			return err
		}
		cur.CancelReason = strPtr("reservation expired")
		return nil
	})
	if err != nil {
		return err
	}
	*b = *fresh
	s.releaseHeld(ctx, b)
	s.logger.Info().Str("booking_id", b.ID.String()).Msg("reservation expired, booking cancelled")
	return nil
}

func (s *Service) releaseHeld(ctx context.Context, b *Booking) {
	if b.ReservationID == nil {
		return
	}
	if err := s.reservations.Release(ctx, *b.ReservationID, b.ID); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("reservation not released")
	}
}

// ConfirmPayment checks the payment session with the provider and moves a
// paid booking to booked. Calling it again on a booked booking is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.loadOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusBooked {
		return b, nil
	}
	if b.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, EventPaymentConfirmed, b.Status)
	}
	if reservationLapsed(b, s.clock.Now()) {
		if err := s.expire(ctx, b); err != nil {
			return nil, err
		}
		return nil, ErrReservationExpired
	}
	if b.PaymentSessionID == nil {
		return nil, ErrPaymentNotCompleted
	}

	status, err := s.payments.VerifySession(ctx, *b.PaymentSessionID)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if status != payment.SessionPaid {
		return nil, fmt.Errorf("%w: session is %s", ErrPaymentNotCompleted, status)
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockForUpdate(ctx, b.ID); err != nil {
			return err
		}
		current, err := s.repo.GetByID(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.Status == StatusBooked {
			b = current
			return nil
		}
		if err := current.apply(EventPaymentConfirmed, s.clock.Now()); err != nil {
			return err
		}
		if current.ReservationID != nil {
			if err := s.reservations.Confirm(ctx, *current.ReservationID, current.ID); err != nil {
				return err
			}
		}
		current.ReservationExpiresAt = nil
		b = current
		return s.repo.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", b.ID.String()).Msg("payment confirmed")
	return b, nil
}

// Countdown reports how long the reservation has left. Reaching zero while
// still pending_payment cancels the booking and frees the seat.
func (s *Service) Countdown(ctx context.Context, id uuid.UUID) (*Countdown, error) {
	b, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	cd := &Countdown{BookingID: b.ID, Status: b.Status}
	if b.Status != StatusPendingPayment || b.ReservationExpiresAt == nil {
		return cd, nil
	}
	cd.ExpiresAt = b.ReservationExpiresAt
	if reservationLapsed(b, now) {
		if err := s.expire(ctx, b); err != nil {
			return nil, err
		}
		cd.Status = b.Status
		cd.Expired = true
		return cd, nil
	}
	cd.RemainingSeconds = int64(math.Ceil(b.ReservationExpiresAt.Sub(now).Seconds()))
	return cd, nil
}

// ExpireStale cancels every pending booking whose reservation has lapsed.
// Failures are logged per booking and do not stop the sweep.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.ListExpiredPending(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range stale {
		err := s.expire(ctx, b)
		if errors.Is(err, ErrInvalidTransition) {
			s.logger.Debug().Str("booking_id", b.ID.String()).Msg("booking left pending_payment before expiry")
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("expire booking")
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	if _, err := s.loadOwned(ctx, id); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by patient"
	}
	now := s.clock.Now()
	b, err := s.transition(ctx, id, func(cur *Booking) error {
		if err := cur.apply(EventCancel, now); err != nil {
			return err
		}
		cur.CancelReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.releaseHeld(ctx, b)
	return b, nil
}

// AssignDoctor sets the consulting doctor. Doctors may only assign
// themselves; admins may assign anyone.
func (s *Service) AssignDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Booking, error) {
	b, caller, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doctorID == uuid.Nil {
		doctorID = caller
	}
	if doctorID != caller && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot assign on %s", ErrInvalidTransition, b.Status)
	}
	now := s.clock.Now()
	return s.transition(ctx, id, func(cur *Booking) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: cannot assign on %s", ErrInvalidTransition, cur.Status)
		}
		cur.DoctorID = &doctorID
		cur.UpdatedAt = now
		return nil
	})
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Booking, error) {
	if _, _, err := s.loadAssigned(ctx, id); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return s.transition(ctx, id, func(cur *Booking) error {
		return cur.apply(EventStart, now)
	})
}

// Complete finishes the consultation and credits the doctor in the same
// transaction.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, _, err := s.loadAssigned(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.DoctorID == nil {
		return nil, fmt.Errorf("%w: no doctor assigned", ErrInvalidTransition)
	}
	now := s.clock.Now()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		done, err := s.transition(ctx, id, func(cur *Booking) error {
			return cur.apply(EventComplete, now)
		})
		if err != nil {
			return err
		}
		b = done
		if s.payouts == nil || b.DoctorID == nil {
			return nil
		}
		return s.payouts.RecordConsultation(ctx, *b.DoctorID, b.ID, s.settings.PayoutMinor)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", b.ID.String()).Str("doctor_id", b.DoctorID.String()).Msg("consultation completed")
	return b, nil
}

// Reschedule moves a booked consultation to a new window by cancelling it
// and creating a replacement in booked status. It is refused, leaving the
// booking untouched, unless the original start is more than the minimum
// notice away.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req CreateRequest) (*RescheduleResult, error) {
	orig, err := s.loadOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(orig.Status, EventReschedule); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if orig.ScheduledStart().Sub(now) <= s.settings.RescheduleMinNotice {
		return &RescheduleResult{
			Original: orig,
			Decision: Decision{Reason: fmt.Sprintf("reschedule window closed: less than %s before the appointment",
				s.settings.RescheduleMinNotice)},
		}, nil
	}

	slot, err := ParseSlot(req.ScheduledDate, req.TimeWindow)
	if err != nil {
		return nil, err
	}
	if !slot.Start().After(now) {
		return nil, fmt.Errorf("%w: time window has already started", ErrInvalidRequest)
	}

	next := &Booking{
		ID:               uuid.New(),
		PatientID:        orig.PatientID,
		ScheduledDate:    slot.Date,
		TimeWindow:       slot.Window,
		Status:           StatusBooked,
		PaymentSessionID: orig.PaymentSessionID,
		FeeMinor:         orig.FeeMinor,
		RescheduledFrom:  &orig.ID,
		CallAttempts:     []CallAttempt{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	reservationID, err := s.reservations.Reserve(ctx, slot, next.ID, s.settings.ReservationTTL)
	if err != nil {
		return nil, err
	}
	next.ReservationID = &reservationID

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.reservations.Confirm(ctx, reservationID, next.ID); err != nil {
			return err
		}
		cancelled, err := s.transition(ctx, orig.ID, func(cur *Booking) error {
			if err := cur.apply(EventReschedule, now); err != nil {
				return err
			}
			cur.CancelReason = strPtr("rescheduled")
			return nil
		})
		if err != nil {
			return err
		}
		orig = cancelled
		return s.repo.Create(ctx, next)
	})
	if err != nil {
		if relErr := s.reservations.Release(ctx, reservationID, next.ID); relErr != nil {
			s.logger.Warn().Err(relErr).Str("reservation_id", reservationID).Msg("release after failed reschedule")
		}
		return nil, err
	}
	s.releaseHeld(ctx, orig)

	s.logger.Info().
		Str("booking_id", orig.ID.String()).
		Str("replacement_id", next.ID.String()).
		Str("slot", slot.Key()).
		Msg("booking rescheduled")
	return &RescheduleResult{Decision: Decision{Allowed: true}, Original: orig, Booking: next}, nil
}

type CallAttemptRequest struct {
	Answered bool   `json:"answered"`
	Notes    string `json:"notes"`
}

// LogCallAttempt appends one contact attempt. A fourth attempt fails with
// ErrCallAttemptLimit and records nothing.
func (s *Service) LogCallAttempt(ctx context.Context, id uuid.UUID, req CallAttemptRequest) (*CallAttempt, error) {
	b, _, err := s.loadAssigned(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusBooked && b.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: cannot call on %s", ErrInvalidTransition, b.Status)
	}

	var attempt *CallAttempt
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockForUpdate(ctx, id); err != nil {
			return err
		}
		existing, err := s.repo.ListCallAttempts(ctx, id)
		if err != nil {
			return err
		}
		if len(existing) >= MaxCallAttempts {
			return ErrCallAttemptLimit
		}
		attempt = &CallAttempt{
			ID:            uuid.New(),
			BookingID:     id,
			AttemptNumber: len(existing) + 1,
			AttemptedAt:   s.clock.Now(),
			Answered:      req.Answered,
			Notes:         strPtr(req.Notes),
		}
		return s.repo.AddCallAttempt(ctx, attempt)
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *Service) CallAttempts(ctx context.Context, id uuid.UUID) ([]CallAttempt, error) {
	b, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.CallAttempts, nil
}

func (s *Service) NoShowEligible(ctx context.Context, id uuid.UUID) (bool, error) {
	b, _, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return NoShowEligible(b.CallAttempts), nil
}

// MarkNoShow moves the booking to no_answer once three calls went unanswered.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*NoShowResult, error) {
	b, _, err := s.loadAssigned(ctx, id)
	if err != nil {
		return nil, err
	}
	if !NoShowEligible(b.CallAttempts) {
		return &NoShowResult{
			Booking:  b,
			Decision: Decision{Reason: fmt.Sprintf("no-show needs %d unanswered call attempts", MaxCallAttempts)},
		}, nil
	}
	now := s.clock.Now()
	b, err = s.transition(ctx, id, func(cur *Booking) error {
		return cur.apply(EventNoAnswer, now)
	})
	if err != nil {
		return nil, err
	}
	return &NoShowResult{Decision: Decision{Allowed: true}, Booking: b}, nil
}
