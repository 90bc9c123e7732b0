package booking

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

const cols = `id, patient_id, doctor_id, scheduled_date, time_window, status, reservation_id,
	reservation_expires_at, payment_session_id, fee_minor, rescheduled_from, cancel_reason,
	created_at, updated_at`

func scan(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.PatientID, &b.DoctorID, &b.ScheduledDate, &b.TimeWindow, &b.Status,
		&b.ReservationID, &b.ReservationExpiresAt, &b.PaymentSessionID, &b.FeeMinor,
		&b.RescheduledFrom, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CallAttempts = []CallAttempt{}
	return &b, nil
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bookings (`+cols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.PatientID, b.DoctorID, b.ScheduledDate, b.TimeWindow, b.Status, b.ReservationID,
		b.ReservationExpiresAt, b.PaymentSessionID, b.FeeMinor, b.RescheduledFrom, b.CancelReason,
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	attempts, err := r.ListCallAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	b.CallAttempts = attempts
	return b, nil
}

func (r *repoPG) Update(ctx context.Context, b *Booking) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET doctor_id=$2, status=$3, reservation_id=$4, reservation_expires_at=$5,
			payment_session_id=$6, cancel_reason=$7, updated_at=$8
		WHERE id = $1`,
		b.ID, b.DoctorID, b.Status, b.ReservationID, b.ReservationExpiresAt,
		b.PaymentSessionID, b.CancelReason, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, where string, limit, offset int, args ...interface{}) ([]*Booking, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT `+cols+` FROM bookings WHERE %s
		ORDER BY scheduled_date, time_window LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	items, err := collect(rows)
	return items, total, err
}

func collect(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return r.list(ctx, `patient_id = $1`, limit, offset, patientID)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return r.list(ctx, `doctor_id = $1`, limit, offset, doctorID)
}

func (r *repoPG) ListUnassigned(ctx context.Context, limit, offset int) ([]*Booking, int, error) {
	return r.list(ctx, `doctor_id IS NULL AND status = $1`, limit, offset, StatusBooked)
}

func (r *repoPG) ListExpiredPending(ctx context.Context, now time.Time) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM bookings
		WHERE status = $1 AND reservation_expires_at <= $2
		ORDER BY reservation_expires_at`, StatusPendingPayment, now)
	if err != nil {
		return nil, fmt.Errorf("list expired bookings: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) AddCallAttempt(ctx context.Context, a *CallAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO call_attempts (id, booking_id, attempt_number, attempted_at, answered, notes)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.BookingID, a.AttemptNumber, a.AttemptedAt, a.Answered, a.Notes)
	if err != nil {
		return fmt.Errorf("insert call attempt: %w", err)
	}
	return nil
}

func (r *repoPG) ListCallAttempts(ctx context.Context, bookingID uuid.UUID) ([]CallAttempt, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, attempt_number, attempted_at, answered, notes
		FROM call_attempts WHERE booking_id = $1 ORDER BY attempt_number`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list call attempts: %w", err)
	}
	defer rows.Close()
	out := []CallAttempt{}
	for rows.Next() {
		var a CallAttempt
		if err := rows.Scan(&a.ID, &a.BookingID, &a.AttemptNumber, &a.AttemptedAt, &a.Answered, &a.Notes); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LockForUpdate takes a row lock on the booking inside the ambient transaction.
func (r *repoPG) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
