package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

type Service struct {
	repo   Repository
	clock  clock.Clock
	minAge int
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, minAge int, logger zerolog.Logger) *Service {
	return &Service{repo: repo, clock: clk, minAge: minAge, logger: logger.With().Str("component", "intake").Logger()}
}

type SubmitRequest struct {
	DateOfBirth  string                 `json:"date_of_birth"`
	SmokerStatus string                 `json:"smoker_status"`
	Answers      map[string]interface{} `json:"answers"`
}

// Decision reports whether the patient may continue to booking.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type SubmitResult struct {
	Form     *Form    `json:"form"`
	Decision Decision `json:"decision"`
}

// Submit stores the questionnaire. Patients under the minimum age are
// refused but the form is still kept.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	dob, err := time.Parse(DateLayout, strings.TrimSpace(req.DateOfBirth))
	if err != nil {
		return nil, fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", ErrInvalidRequest)
	}
	now := s.clock.Now()
	if dob.After(now) {
		return nil, fmt.Errorf("%w: date_of_birth is in the future", ErrInvalidRequest)
	}
	smoker, err := ParseSmokerStatus(req.SmokerStatus)
	if err != nil {
		return nil, err
	}
	answers := req.Answers
	if answers == nil {
		answers = map[string]interface{}{}
	}

	f := &Form{
		ID:           uuid.New(),
		OwnerID:      owner,
		DateOfBirth:  dob,
		SmokerStatus: smoker,
		Answers:      answers,
		Eligible:     true,
		CreatedAt:    now,
	}
	decision := Decision{Allowed: true}
	if age := Age(dob, now); age < s.minAge {
		reason := fmt.Sprintf("must be at least %d years old", s.minAge)
		f.Eligible = false
		f.DeclineReason = &reason
		decision = Decision{Reason: reason}
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().Str("owner_id", owner.String()).Bool("eligible", f.Eligible).Msg("intake submitted")
	return &SubmitResult{Form: f, Decision: decision}, nil
}

func (s *Service) Latest(ctx context.Context) (*Form, error) {
	owner, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Latest(ctx, owner)
}

// Eligibility reports whether ownerID may book a consultation. Only the
// latest form counts; a patient with no form on file is not blocked.
func (s *Service) Eligibility(ctx context.Context, ownerID uuid.UUID) (bool, string, error) {
	f, err := s.repo.Latest(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return true, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("load intake: %w", err)
	}
	if f.Eligible {
		return true, "", nil
	}
	reason := "intake not eligible"
	if f.DeclineReason != nil {
		reason = *f.DeclineReason
	}
	return false, reason, nil
}
