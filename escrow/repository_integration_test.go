package escrow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/authority"
)

// TestEscrowLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the full create / add / release / dispute flow against the
// actual schema, including the timeline and outbox side effects.
func TestEscrowLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"escrows", "payments", "timeline_events", "outbox", "admin_config"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("database schema missing table %s; apply migrations first", table)
		}
	}

	suffix := time.Now().UnixNano()
	escrowID := fmt.Sprintf("itest-escrow-%d", suffix)
	client := fmt.Sprintf("itest-client-%d", suffix)
	contractor := fmt.Sprintf("itest-contractor-%d", suffix)
	admin := fmt.Sprintf("itest-admin-%d", suffix)

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'escrow_id' = $1`, escrowID)
		// escrows, payments and timeline_events carry no-delete triggers; the
		// unique identifiers keep reruns from colliding.
	})

	authoritySvc := authority.NewService(authority.NewRepository(pool))
	if err := authoritySvc.EnsureAdmin(ctx, admin); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	svc := NewService(pool, NewRepository(pool), authoritySvc)

	e, err := svc.Create(ctx, client, CreateParams{
		EscrowID:    escrowID,
		ProjectID:   fmt.Sprintf("itest-project-%d", suffix),
		Contractor:  contractor,
		TotalAmount: 100000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Status != StatusActive || e.ReleasedAmount != 0 {
		t.Fatalf("unexpected created escrow: %+v", e)
	}

	// duplicate id must be refused at the database level
	if _, err := svc.Create(ctx, client, CreateParams{
		EscrowID:    escrowID,
		ProjectID:   "other",
		Contractor:  contractor,
		TotalAmount: 1,
	}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrAlreadyExists, got %v", err)
	}

	if _, err := svc.AddPayment(ctx, client, AddPaymentParams{
		EscrowID:    escrowID,
		PaymentID:   "pay-1",
		MilestoneID: "m1",
		Amount:      20000,
	}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	released, err := svc.ReleasePayment(ctx, client, escrowID, "pay-1")
	if err != nil {
		t.Fatalf("release payment: %v", err)
	}
	if released.Status != PaymentReleased || released.ReleaseMarker == nil {
		t.Fatalf("unexpected released payment: %+v", released)
	}

	e, found, err := svc.Get(ctx, escrowID)
	if err != nil || !found {
		t.Fatalf("get after release: found=%v err=%v", found, err)
	}
	if e.ReleasedAmount != 20000 {
		t.Fatalf("expected released_amount 20000, got %d", e.ReleasedAmount)
	}

	// released total must equal the sum of released payment rows
	var sum int64
	if err := pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE escrow_id = $1 AND status = 'released'`,
		escrowID).Scan(&sum); err != nil {
		t.Fatalf("sum released payments: %v", err)
	}
	if sum != e.ReleasedAmount {
		t.Fatalf("ledger out of balance: released_amount=%d sum=%d", e.ReleasedAmount, sum)
	}

	// dispute by contractor, resolve by admin
	if _, err := svc.Dispute(ctx, contractor, escrowID); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := svc.ReleasePayment(ctx, client, escrowID, "pay-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("release under dispute: expected ErrInvalidState, got %v", err)
	}
	e, err = svc.Resolve(ctx, admin, escrowID, StatusActive)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e.Status != StatusActive {
		t.Fatalf("expected active after resolve, got %s", e.Status)
	}

	// timeline is a contiguous per-escrow sequence covering every event
	var evCount, maxSeq int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM timeline_events WHERE escrow_id = $1`,
		escrowID).Scan(&evCount, &maxSeq); err != nil {
		t.Fatalf("verify timeline: %v", err)
	}
	if evCount != 5 || maxSeq != evCount {
		t.Fatalf("unexpected timeline state: count=%d max_seq=%d", evCount, maxSeq)
	}

	var outCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE payload->>'escrow_id' = $1`,
		escrowID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 5 {
		t.Fatalf("expected 5 outbox messages, got %d", outCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
