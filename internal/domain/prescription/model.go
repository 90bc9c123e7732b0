package prescription

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pouchrx/pouchrx/internal/domain/allowance"
)

var (
	ErrNotFound          = errors.New("prescription not found")
	ErrInvalidTransition = errors.New("invalid prescription transition")
	ErrInvalidStrength   = errors.New("strength must be one of 3, 6 or 9 mg")
	ErrNoDocument        = errors.New("prescription has no uploaded document")
	ErrForbidden         = errors.New("only doctors may view prescription documents")
	ErrInvalidRequest    = errors.New("invalid prescription request")
)

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusActive        Status = "active"
	StatusExpired       Status = "expired"
	StatusRevoked       Status = "revoked"
)

type Source string

const (
	SourceUploaded Source = "uploaded"
	SourceIssued   Source = "issued"
)

type Prescription struct {
	ID                uuid.UUID  `json:"id"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	Status            Status     `json:"status"`
	Source            Source     `json:"source"`
	MaxStrengthMg     int        `json:"max_strength_mg"`
	TotalUnitsAllowed int        `json:"total_units_allowed"`
	DocumentID        *string    `json:"document_id,omitempty"`
	IssuedBy          *uuid.UUID `json:"issued_by,omitempty"`
	Note              *string    `json:"note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
}

type action string

const (
	actionApprove action = "approve"
	actionReject  action = "reject"
	actionRevoke  action = "revoke"
	actionExpire  action = "expire"
)

var transitions = map[Status]map[action]Status{
	StatusPendingReview: {actionApprove: StatusActive, actionReject: StatusRevoked},
	StatusActive:        {actionRevoke: StatusRevoked, actionExpire: StatusExpired},
}

func next(from Status, a action) (Status, bool) {
	to, ok := transitions[from][a]
	return to, ok
}

// Usable reports whether p grants an allowance at now.
func (p *Prescription) Usable(now time.Time) bool {
	return p.Status == StatusActive && !allowance.IsExpired(p.ExpiresAt, now)
}

// Grant is the view of p the allowance engine consumes.
func (p *Prescription) Grant() *allowance.Grant {
	return &allowance.Grant{
		MaxStrengthMg: p.MaxStrengthMg,
		TotalUnits:    p.TotalUnitsAllowed,
		ExpiresAt:     p.ExpiresAt,
	}
}

// Authoritative picks the most recently created usable prescription, or nil.
func Authoritative(list []*Prescription, now time.Time) *Prescription {
	var best *Prescription
	for _, p := range list {
		if !p.Usable(now) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	return best
}

// Gating summarises a patient's prescriptions for the shop.
type Gating struct {
	Active     *Prescription
	HasPending bool
	HasExpired bool
}

func Summarise(list []*Prescription, now time.Time) Gating {
	g := Gating{Active: Authoritative(list, now)}
	for _, p := range list {
		switch {
		case p.Status == StatusPendingReview:
			g.HasPending = true
		case p.Status == StatusExpired, p.Status == StatusActive && !p.Usable(now):
			g.HasExpired = true
		}
	}
	return g
}

// AllowanceInput fills the prescription part of an allowance evaluation.
func (g Gating) AllowanceInput(now time.Time, orderedQty, cartQty int) allowance.Input {
	in := allowance.Input{
		HasPending: g.HasPending,
		HasExpired: g.HasExpired,
		OrderedQty: orderedQty,
		CartQty:    cartQty,
		Now:        now,
	}
	if g.Active != nil {
		in.Active = g.Active.Grant()
	}
	return in
}

func sortNewestFirst(list []*Prescription) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}
