package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const cols = `id, owner_id, status, source, max_strength_mg, total_units_allowed,
	document_id, issued_by, note, created_at, expires_at, reviewed_at`

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.OwnerID, &p.Status, &p.Source, &p.MaxStrengthMg, &p.TotalUnitsAllowed,
		&p.DocumentID, &p.IssuedBy, &p.Note, &p.CreatedAt, &p.ExpiresAt, &p.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescriptions (id, owner_id, status, source, max_strength_mg, total_units_allowed,
			document_id, issued_by, note, created_at, expires_at, reviewed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.OwnerID, p.Status, p.Source, p.MaxStrengthMg, p.TotalUnitsAllowed,
		p.DocumentID, p.IssuedBy, p.Note, p.CreatedAt, p.ExpiresAt, p.ReviewedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM prescriptions WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET status=$2, max_strength_mg=$3, total_units_allowed=$4,
			issued_by=$5, note=$6, expires_at=$7, reviewed_at=$8
		WHERE id = $1`,
		p.ID, p.Status, p.MaxStrengthMg, p.TotalUnitsAllowed, p.IssuedBy, p.Note, p.ExpiresAt, p.ReviewedAt)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Prescription, error) {
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) AllByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM prescriptions WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return r.collect(rows)
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM prescriptions WHERE status = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET status = 'expired'
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire prescriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
