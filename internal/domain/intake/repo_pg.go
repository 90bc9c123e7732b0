package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pouchrx/pouchrx/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, f *Form) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	answers, err := json.Marshal(f.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO intake_forms (id, owner_id, date_of_birth, smoker_status, answers, eligible, decline_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		f.ID, f.OwnerID, f.DateOfBirth, f.SmokerStatus, answers, f.Eligible, f.DeclineReason, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert intake form: %w", err)
	}
	return nil
}

func (r *repoPG) Latest(ctx context.Context, ownerID uuid.UUID) (*Form, error) {
	var (
		f       Form
		answers []byte
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, owner_id, date_of_birth, smoker_status, answers, eligible, decline_reason, created_at
		FROM intake_forms WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT 1`, ownerID).
		Scan(&f.ID, &f.OwnerID, &f.DateOfBirth, &f.SmokerStatus, &answers, &f.Eligible, &f.DeclineReason, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest intake form: %w", err)
	}
	if err := json.Unmarshal(answers, &f.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &f, nil
}
