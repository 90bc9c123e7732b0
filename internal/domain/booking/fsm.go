package booking

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid booking transition")

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusBooked         Status = "booked"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoAnswer       Status = "no_answer"
)

// Statuses lists every state, terminal ones last.
var Statuses = []Status{
	StatusPendingPayment, StatusBooked, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusNoAnswer,
}

type Event string

const (
	EventPaymentConfirmed   Event = "payment_confirmed"
	EventReservationExpired Event = "reservation_expired"
	EventCancel             Event = "cancel"
	EventStart              Event = "start"
	EventNoAnswer           Event = "no_answer"
	EventReschedule         Event = "reschedule"
	EventComplete           Event = "complete"
)

var Events = []Event{
	EventPaymentConfirmed, EventReservationExpired, EventCancel,
	EventStart, EventNoAnswer, EventReschedule, EventComplete,
}

// transitions is the whole lifecycle. A (state, event) pair missing here is
// refused. Terminal states have no entry.
var transitions = map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventPaymentConfirmed:   StatusBooked,
		EventReservationExpired: StatusCancelled,
		EventCancel:             StatusCancelled,
	},
	StatusBooked: {
		EventStart:      StatusInProgress,
		EventNoAnswer:   StatusNoAnswer,
		EventReschedule: StatusCancelled,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
		EventNoAnswer: StatusNoAnswer,
	},
}

// Transition returns the state reached by applying ev to from.
func Transition(from Status, ev Event) (Status, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}
