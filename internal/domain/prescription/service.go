package prescription

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/domain/allowance"
	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/blobstore"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

// DefaultValidityMonths is how long an issued or approved prescription lasts.
const DefaultValidityMonths = 3

type Service struct {
	repo   Repository
	blobs  blobstore.BlobStore
	signer *blobstore.URLSigner
	clock  clock.Clock
	cap    int
	logger zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.BlobStore, signer *blobstore.URLSigner, clk clock.Clock, cap int, logger zerolog.Logger) *Service {
	if cap <= 0 {
		cap = allowance.DefaultCap
	}
	return &Service{repo: repo, blobs: blobs, signer: signer, clock: clk, cap: cap, logger: logger}
}

type IssueRequest struct {
	OwnerID       uuid.UUID  `json:"owner_id"`
	MaxStrengthMg int        `json:"max_strength_mg"`
	TotalUnits    int        `json:"total_units_allowed"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Note          string     `json:"note"`
}

type ReviewRequest struct {
	MaxStrengthMg int        `json:"max_strength_mg"`
	TotalUnits    int        `json:"total_units_allowed"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Note          string     `json:"note"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) defaultExpiry(now time.Time, requested *time.Time) *time.Time {
	if requested != nil {
		t := requested.UTC()
		return &t
	}
	t := now.AddDate(0, DefaultValidityMonths, 0)
	return &t
}

// Issue records a prescription written directly by the calling doctor. It is
// active immediately.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Prescription, error) {
	doctorID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidRequest)
	}
	if !allowance.IsValidStrength(req.MaxStrengthMg) {
		return nil, ErrInvalidStrength
	}
	units := req.TotalUnits
	if units <= 0 {
		units = s.cap
	}

	now := s.clock.Now()
	p := &Prescription{
		OwnerID:           req.OwnerID,
		Status:            StatusActive,
		Source:            SourceIssued,
		MaxStrengthMg:     req.MaxStrengthMg,
		TotalUnitsAllowed: units,
		IssuedBy:          &doctorID,
		Note:              optional(req.Note),
		CreatedAt:         now,
		ExpiresAt:         s.defaultExpiry(now, req.ExpiresAt),
		ReviewedAt:        &now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Upload stores a patient's prescription scan and opens a review request.
func (s *Service) Upload(ctx context.Context, fileName, contentType string, content io.Reader) (*Prescription, error) {
	ownerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.blobs.Upload(ctx, blobstore.Metadata{
		OwnerID:     ownerID.String(),
		FileName:    fileName,
		ContentType: contentType,
	}, content)
	if err != nil {
		return nil, err
	}

	p := &Prescription{
		OwnerID:    ownerID,
		Status:     StatusPendingReview,
		Source:     SourceUploaded,
		DocumentID: &doc.ID,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if derr := s.blobs.Delete(ctx, doc.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("document_id", doc.ID).Msg("orphaned prescription document")
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, a action, mutate func(p *Prescription, now time.Time) error) (*Prescription, error) {
	reviewer, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to, ok := next(p.Status, a)
	if !ok {
		return nil, fmt.Errorf("%w: cannot %s a %s prescription", ErrInvalidTransition, a, p.Status)
	}
	now := s.clock.Now()
	if mutate != nil {
		if err := mutate(p, now); err != nil {
			return nil, err
		}
	}
	p.Status = to
	p.ReviewedAt = &now
	if p.IssuedBy == nil {
		p.IssuedBy = &reviewer
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve activates an uploaded prescription with the strength and allowance
// the reviewing doctor confirms.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, req ReviewRequest) (*Prescription, error) {
	return s.transition(ctx, id, actionApprove, func(p *Prescription, now time.Time) error {
		if !allowance.IsValidStrength(req.MaxStrengthMg) {
			return ErrInvalidStrength
		}
		p.MaxStrengthMg = req.MaxStrengthMg
		p.TotalUnitsAllowed = req.TotalUnits
		if p.TotalUnitsAllowed <= 0 {
			p.TotalUnitsAllowed = s.cap
		}
		p.ExpiresAt = s.defaultExpiry(now, req.ExpiresAt)
		if req.Note != "" {
			p.Note = &req.Note
		}
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, note string) (*Prescription, error) {
	return s.transition(ctx, id, actionReject, func(p *Prescription, _ time.Time) error {
		if note != "" {
			p.Note = &note
		}
		return nil
	})
}

func (s *Service) Revoke(ctx context.Context, id uuid.UUID, note string) (*Prescription, error) {
	return s.transition(ctx, id, actionRevoke, func(p *Prescription, _ time.Time) error {
		if note != "" {
			p.Note = &note
		}
		return nil
	})
}

// ExpireDue marks lapsed active prescriptions expired. Reads already treat
// them as unusable; this keeps stored status in line.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("prescriptions expired")
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Prescription, error) {
	return s.repo.AllByOwner(ctx, ownerID)
}

func (s *Service) ListPendingReview(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByStatus(ctx, StatusPendingReview, limit, offset)
}

// ActiveFor returns the authoritative prescription, or nil when none is usable.
func (s *Service) ActiveFor(ctx context.Context, ownerID uuid.UUID) (*Prescription, error) {
	list, err := s.repo.AllByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return Authoritative(list, s.clock.Now()), nil
}

// Gating summarises ownerID's prescriptions for shop gating.
func (s *Service) Gating(ctx context.Context, ownerID uuid.UUID) (Gating, error) {
	list, err := s.repo.AllByOwner(ctx, ownerID)
	if err != nil {
		return Gating{}, err
	}
	return Summarise(list, s.clock.Now()), nil
}

// DocumentURL issues a short-lived download token for the scan behind an
// uploaded prescription. Only doctors (and admins) may ask.
func (s *Service) DocumentURL(ctx context.Context, id uuid.UUID) (string, time.Time, error) {
	requester, err := auth.RequireUser(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	if !auth.HasRole(ctx, auth.RoleDoctor) {
		return "", time.Time{}, ErrForbidden
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if p.DocumentID == nil {
		return "", time.Time{}, ErrNoDocument
	}
	return s.signer.Sign(*p.DocumentID, requester.String())
}
