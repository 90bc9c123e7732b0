package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("booking not found")
	ErrForbidden           = errors.New("not allowed to act on this booking")
	ErrInvalidRequest      = errors.New("invalid booking request")
	ErrSlotFull            = errors.New("time window is fully booked")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrReservationNotHeld  = errors.New("reservation not held")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrIntakeIneligible    = errors.New("intake questionnaire not eligible")
	// ErrCallAttemptLimit is a caller bug: the UI never offers a fourth call.
	ErrCallAttemptLimit = errors.New("call attempt limit reached")
)

// MaxCallAttempts is the number of contact attempts before a no-show.
const MaxCallAttempts = 3

// DateLayout is the wire format of scheduled dates.
const DateLayout = "2006-01-02"

type Window string

const (
	WindowMorning   Window = "morning"
	WindowAfternoon Window = "afternoon"
	WindowEvening   Window = "evening"
)

// windowStartHour is the UTC hour each window opens.
var windowStartHour = map[Window]int{
	WindowMorning:   9,
	WindowAfternoon: 13,
	WindowEvening:   17,
}

func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := windowStartHour[w]; !ok {
		return "", fmt.Errorf("%w: unknown time window %q", ErrInvalidRequest, s)
	}
	return w, nil
}

// Slot is one bookable time window on one date.
type Slot struct {
	Date   time.Time
	Window Window
}

func ParseSlot(date, window string) (Slot, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return Slot{}, fmt.Errorf("%w: scheduled_date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	w, err := ParseWindow(window)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Date: d, Window: w}, nil
}

func (s Slot) Start() time.Time {
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, windowStartHour[s.Window], 0, 0, 0, time.UTC)
}

func (s Slot) Key() string {
	return s.Date.Format(DateLayout) + ":" + string(s.Window)
}

type CallAttempt struct {
	ID            uuid.UUID `json:"id"`
	BookingID     uuid.UUID `json:"booking_id"`
	AttemptNumber int       `json:"attempt_number"`
	AttemptedAt   time.Time `json:"attempted_at"`
	Answered      bool      `json:"answered"`
	Notes         *string   `json:"notes,omitempty"`
}

type Booking struct {
	ID                   uuid.UUID     `json:"id"`
	PatientID            uuid.UUID     `json:"patient_id"`
	DoctorID             *uuid.UUID    `json:"doctor_id,omitempty"`
	ScheduledDate        time.Time     `json:"scheduled_date"`
	TimeWindow           Window        `json:"time_window"`
	Status               Status        `json:"status"`
	ReservationID        *string       `json:"reservation_id,omitempty"`
	ReservationExpiresAt *time.Time    `json:"reservation_expires_at,omitempty"`
	PaymentSessionID     *string       `json:"payment_session_id,omitempty"`
	FeeMinor             int64         `json:"fee_minor"`
	RescheduledFrom      *uuid.UUID    `json:"rescheduled_from,omitempty"`
	CancelReason         *string       `json:"cancel_reason,omitempty"`
	CallAttempts         []CallAttempt `json:"call_attempts"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (b *Booking) Slot() Slot {
	return Slot{Date: b.ScheduledDate, Window: b.TimeWindow}
}

func (b *Booking) ScheduledStart() time.Time {
	return b.Slot().Start()
}

func (b *Booking) apply(ev Event, now time.Time) error {
	to, err := Transition(b.Status, ev)
	if err != nil {
		return err
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// NoShowEligible is true only when the three most recent attempts were all
// unanswered.
func NoShowEligible(attempts []CallAttempt) bool {
	if len(attempts) < MaxCallAttempts {
		return false
	}
	for _, a := range attempts[len(attempts)-MaxCallAttempts:] {
		if a.Answered {
			return false
		}
	}
	return true
}

// Decision carries a guard refusal back to the caller.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
