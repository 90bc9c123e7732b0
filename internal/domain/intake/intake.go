// Package intake records the eligibility questionnaire a patient fills in
// before their first consultation.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("intake form not found")
	ErrInvalidRequest = errors.New("invalid intake form")
)

const DateLayout = "2006-01-02"

type SmokerStatus string

const (
	SmokerCurrent SmokerStatus = "current"
	SmokerFormer  SmokerStatus = "former"
	SmokerNever   SmokerStatus = "never"
)

func ParseSmokerStatus(s string) (SmokerStatus, error) {
	switch v := SmokerStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case SmokerCurrent, SmokerFormer, SmokerNever:
		return v, nil
	}
	return "", fmt.Errorf("%w: smoker_status must be current, former or never", ErrInvalidRequest)
}

type Form struct {
	ID            uuid.UUID              `json:"id"`
	OwnerID       uuid.UUID              `json:"owner_id"`
	DateOfBirth   time.Time              `json:"date_of_birth"`
	SmokerStatus  SmokerStatus           `json:"smoker_status"`
	Answers       map[string]interface{} `json:"answers"`
	Eligible      bool                   `json:"eligible"`
	DeclineReason *string                `json:"decline_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Age is the number of whole years between dob and at.
func Age(dob, at time.Time) int {
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return years
}

type Repository interface {
	Create(ctx context.Context, f *Form) error
	Latest(ctx context.Context, ownerID uuid.UUID) (*Form, error)
}
