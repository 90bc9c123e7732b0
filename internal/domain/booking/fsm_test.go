package booking

import (
	"errors"
	"testing"
)

func TestTransition_Table(t *testing.T) {
	allowed := map[Status]map[Event]Status{
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

	for _, from := range Statuses {
		for _, ev := range Events {
			to, err := Transition(from, ev)
			want, ok := allowed[from][ev]
			if ok {
				if err != nil {
					t.Errorf("%s on %s: unexpected error %v", ev, from, err)
				}
				if to != want {
					t.Errorf("%s on %s: expected %s, got %s", ev, from, want, to)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s on %s: expected ErrInvalidTransition, got %v", ev, from, err)
			}
			if to != from {
				t.Errorf("%s on %s: refused transition must leave state unchanged, got %s", ev, from, to)
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
		StatusNoAnswer:  true,
	}
	for _, s := range Statuses {
		if s.Terminal() != terminal[s] {
			t.Errorf("%s: expected terminal=%v", s, terminal[s])
		}
	}
}

func TestNoShowEligible(t *testing.T) {
	unanswered := CallAttempt{Answered: false}
	answered := CallAttempt{Answered: true}

	tests := []struct {
		name     string
		attempts []CallAttempt
		want     bool
	}{
		{"none", nil, false},
		{"two unanswered", []CallAttempt{unanswered, unanswered}, false},
		{"three unanswered", []CallAttempt{unanswered, unanswered, unanswered}, true},
		{"one answered", []CallAttempt{unanswered, answered, unanswered}, false},
		{"last answered", []CallAttempt{unanswered, unanswered, answered}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NoShowEligible(tt.attempts); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("2026-04-05", " Evening ")
	if err != nil {
		t.Fatal(err)
	}
	if s.Window != WindowEvening {
		t.Errorf("expected evening, got %s", s.Window)
	}
	if s.Start().Hour() != 17 {
		t.Errorf("expected 17:00 start, got %s", s.Start())
	}
	if s.Key() != "2026-04-05:evening" {
		t.Errorf("unexpected key %q", s.Key())
	}

	if _, err := ParseSlot("05/04/2026", "morning"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for bad date, got %v", err)
	}
	if _, err := ParseSlot("2026-04-05", "night"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for bad window, got %v", err)
	}
}
