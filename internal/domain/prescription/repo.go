package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	// AllByOwner returns every prescription of owner, newest first.
	AllByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Prescription, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error)
	// ExpireDue flips active prescriptions whose expiry is at or before now.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
