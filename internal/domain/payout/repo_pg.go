package payout

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

const cols = `id, doctor_id, booking_id, amount_minor, status, created_at, paid_at`

func scan(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.DoctorID, &e.BookingID, &e.AmountMinor, &e.Status, &e.CreatedAt, &e.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *repoPG) Insert(ctx context.Context, e *Entry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payouts (id, doctor_id, booking_id, amount_minor, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (booking_id) DO NOTHING`,
		e.ID, e.DoctorID, e.BookingID, e.AmountMinor, e.Status, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM payouts WHERE id = $1`, id))
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM payouts WHERE doctor_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Totals(ctx context.Context, doctorID uuid.UUID) (int, int64, int64, error) {
	var (
		count         int
		pending, paid int64
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(amount_minor) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(amount_minor) FILTER (WHERE status = 'paid'), 0)
		FROM payouts WHERE doctor_id = $1`, doctorID).Scan(&count, &pending, &paid)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum payouts: %w", err)
	}
	return count, pending, paid, nil
}

func (r *repoPG) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payouts SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return fmt.Errorf("mark payout paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyPaid
	}
	return nil
}
