package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
)

var testNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryRepo, *clock.Fixed) {
	clk := clock.NewFixed(testNow)
	repo := NewMemoryRepo()
	return NewService(repo, clk, zerolog.Nop()), repo, clk
}

func asDoctor(id uuid.UUID) context.Context {
	return auth.WithUser(context.Background(), id.String(), []string{auth.RoleDoctor})
}

func TestRecordConsultation_Idempotent(t *testing.T) {
	svc, _, _ := newTestService()
	doctor, booking := uuid.New(), uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.RecordConsultation(ctx, doctor, booking, 3500); err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := svc.ListByDoctor(asDoctor(doctor), uuid.Nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected a single entry, got %d", total)
	}
	if items[0].Status != StatusPending || items[0].AmountMinor != 3500 {
		t.Errorf("unexpected entry %+v", items[0])
	}
}

func TestRecordConsultation_NegativeAmount(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.RecordConsultation(context.Background(), uuid.New(), uuid.New(), -1); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestSummary(t *testing.T) {
	svc, _, clk := newTestService()
	doctor := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clk.Advance(time.Minute)
		if err := svc.RecordConsultation(ctx, doctor, uuid.New(), 3500); err != nil {
			t.Fatal(err)
		}
	}
	svc.RecordConsultation(ctx, uuid.New(), uuid.New(), 9999)

	items, _, _ := svc.ListByDoctor(asDoctor(doctor), uuid.Nil, 20, 0)
	if _, err := svc.MarkPaid(ctx, items[0].ID); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Summary(asDoctor(doctor), uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 3 || sum.PendingMinor != 7000 || sum.PaidMinor != 3500 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Pending != "70.00" || sum.Paid != "35.00" {
		t.Errorf("unexpected formatted totals %q %q", sum.Pending, sum.Paid)
	}
}

func TestListByDoctor_NewestFirst(t *testing.T) {
	svc, _, clk := newTestService()
	doctor := uuid.New()
	first, second := uuid.New(), uuid.New()
	svc.RecordConsultation(context.Background(), doctor, first, 3500)
	clk.Advance(time.Hour)
	svc.RecordConsultation(context.Background(), doctor, second, 3500)

	items, _, err := svc.ListByDoctor(asDoctor(doctor), uuid.Nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].BookingID != second {
		t.Error("expected newest entry first")
	}
}

func TestListByDoctor_OnlyAdminMayChooseDoctor(t *testing.T) {
	svc, _, _ := newTestService()
	doctor, other := uuid.New(), uuid.New()
	svc.RecordConsultation(context.Background(), doctor, uuid.New(), 3500)

	_, total, _ := svc.ListByDoctor(asDoctor(other), doctor, 20, 0)
	if total != 0 {
		t.Errorf("expected another doctor's ledger to stay hidden, got %d", total)
	}

	admin := auth.WithUser(context.Background(), uuid.NewString(), []string{auth.RoleAdmin})
	_, total, _ = svc.ListByDoctor(admin, doctor, 20, 0)
	if total != 1 {
		t.Errorf("expected admin to see 1 entry, got %d", total)
	}
}

func TestMarkPaid(t *testing.T) {
	svc, repo, clk := newTestService()
	doctor, booking := uuid.New(), uuid.New()
	svc.RecordConsultation(context.Background(), doctor, booking, 3500)
	items, _, _ := repo.ListByDoctor(context.Background(), doctor, 1, 0)

	clk.Advance(48 * time.Hour)
	e, err := svc.MarkPaid(context.Background(), items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusPaid || e.PaidAt == nil || !e.PaidAt.Equal(clk.Now()) {
		t.Errorf("unexpected paid entry %+v", e)
	}
	if _, err := svc.MarkPaid(context.Background(), items[0].ID); !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid, got %v", err)
	}
	if _, err := svc.MarkPaid(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSummary_Unauthenticated(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Summary(context.Background(), uuid.Nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
