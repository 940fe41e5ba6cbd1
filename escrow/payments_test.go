package escrow

import (
	"errors"
	"testing"
)

func TestAddAndReleasePayment(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 100000)

	p, err := f.svc.AddPayment(ctxb(), "client-1", AddPaymentParams{
		EscrowID:    "e1",
		PaymentID:   "pay-1",
		MilestoneID: "m1",
		Amount:      20000,
	})
	if err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if p.Status != PaymentPending {
		t.Fatalf("expected pending payment, got %s", p.Status)
	}
	f.expectTimeline(t, "e1", EventPaymentAdded)

	released, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1")
	if err != nil {
		t.Fatalf("release payment: %v", err)
	}
	if released.Status != PaymentReleased {
		t.Fatalf("expected released payment, got %s", released.Status)
	}
	if released.ReleaseMarker == nil {
		t.Fatal("expected release marker stamped on release")
	}

	e, _, _ := f.svc.Get(ctxb(), "e1")
	if e.ReleasedAmount != 20000 {
		t.Fatalf("expected released_amount 20000, got %d", e.ReleasedAmount)
	}
	f.expectTimeline(t, "e1", EventPaymentReleased)
	f.expectOutbox(t, TopicPaymentReleased)
}

func TestAddPayment_Validation(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)

	cases := []struct {
		name   string
		caller string
		params AddPaymentParams
	}{
		{"missing caller", "", AddPaymentParams{EscrowID: "e1", PaymentID: "p1", MilestoneID: "m1", Amount: 1}},
		{"missing payment id", "client-1", AddPaymentParams{EscrowID: "e1", MilestoneID: "m1", Amount: 1}},
		{"missing milestone id", "client-1", AddPaymentParams{EscrowID: "e1", PaymentID: "p1", Amount: 1}},
		{"negative amount", "client-1", AddPaymentParams{EscrowID: "e1", PaymentID: "p1", MilestoneID: "m1", Amount: -5}},
	}
	for _, tc := range cases {
		if _, err := f.svc.AddPayment(ctxb(), tc.caller, tc.params); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestAddPayment_Authorization(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)

	if _, err := f.svc.AddPayment(ctxb(), "contractor-1", AddPaymentParams{
		EscrowID: "e1", PaymentID: "p1", MilestoneID: "m1", Amount: 100,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("contractor add: expected ErrUnauthorized, got %v", err)
	}

	if _, err := f.svc.AddPayment(ctxb(), "admin-1", AddPaymentParams{
		EscrowID: "e1", PaymentID: "p1", MilestoneID: "m1", Amount: 100,
	}); err != nil {
		t.Fatalf("admin add: %v", err)
	}
}

func TestAddPayment_Duplicate(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 100)

	_, err := f.svc.AddPayment(ctxb(), "client-1", AddPaymentParams{
		EscrowID: "e1", PaymentID: "pay-1", MilestoneID: "m2", Amount: 200,
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddPayment_ClosedEscrow(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)

	if _, err := f.svc.Close(ctxb(), "client-1", "e1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := f.svc.AddPayment(ctxb(), "client-1", AddPaymentParams{
		EscrowID: "e1", PaymentID: "pay-1", MilestoneID: "m1", Amount: 100,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState adding to closed escrow, got %v", err)
	}
	if code, ok := CodeOf(err); !ok || code != CodeInvalidState {
		t.Fatalf("expected code %d, got %d (ok=%v)", CodeInvalidState, code, ok)
	}
}

func TestReleasePayment_ContractorForbidden(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 100)

	_, err := f.svc.ReleasePayment(ctxb(), "contractor-1", "e1", "pay-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if code, ok := CodeOf(err); !ok || code != CodeUnauthorized {
		t.Fatalf("expected code %d, got %d (ok=%v)", CodeUnauthorized, code, ok)
	}

	p, _, _ := f.svc.GetPayment(ctxb(), "e1", "pay-1")
	if p.Status != PaymentPending {
		t.Fatalf("payment must stay pending after refused release, got %s", p.Status)
	}
}

func TestReleasePayment_Twice(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 400)

	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1"); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second release: expected ErrInvalidState, got %v", err)
	}

	e, _, _ := f.svc.Get(ctxb(), "e1")
	if e.ReleasedAmount != 400 {
		t.Fatalf("released amount must count the payment once, got %d", e.ReleasedAmount)
	}
}

func TestReleasePayment_InsufficientFunds(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 800)
	f.seedPayment("e1", "pay-2", "m2", 300)

	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1"); err != nil {
		t.Fatalf("first release: %v", err)
	}

	_, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-2")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if code, ok := CodeOf(err); !ok || code != CodeInsufficientFunds {
		t.Fatalf("expected code %d, got %d (ok=%v)", CodeInsufficientFunds, code, ok)
	}

	e, _, _ := f.svc.Get(ctxb(), "e1")
	if e.ReleasedAmount != 800 {
		t.Fatalf("refused release must not move the total, got %d", e.ReleasedAmount)
	}
	p, _, _ := f.svc.GetPayment(ctxb(), "e1", "pay-2")
	if p.Status != PaymentPending {
		t.Fatalf("refused payment must stay pending, got %s", p.Status)
	}
}

func TestReleasePayment_DisputedEscrow(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 100)
	f.setStatus("e1", StatusDisputed)

	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState releasing under dispute, got %v", err)
	}
}

func TestReleasePayment_MilestoneGate(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m-unverified", 100)
	f.seedPayment("e1", "pay-2", "m-verified", 100)
	f.seedPayment("e1", "pay-3", "m-unknown", 100)
	f.svc.RequireVerifiedMilestones(&fakeMilestones{verified: map[string]bool{
		"p1/m-unverified": false,
		"p1/m-verified":   true,
	}})

	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1"); !errors.Is(err, ErrMilestoneUnverified) {
		t.Fatalf("unverified milestone: expected ErrMilestoneUnverified, got %v", err)
	}
	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-3"); !errors.Is(err, ErrMilestoneUnverified) {
		t.Fatalf("unknown milestone: expected ErrMilestoneUnverified, got %v", err)
	}
	if _, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-2"); err != nil {
		t.Fatalf("verified milestone: %v", err)
	}
}

func TestReleasePayment_UnknownPayment(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)

	_, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleasePayment_MarkersIncrease(t *testing.T) {
	f := newFixture()
	f.seedEscrow("e1", "client-1", "contractor-1", 1000)
	f.seedPayment("e1", "pay-1", "m1", 100)
	f.seedPayment("e1", "pay-2", "m2", 100)

	first, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-1")
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	second, err := f.svc.ReleasePayment(ctxb(), "client-1", "e1", "pay-2")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if first.ReleaseMarker == nil || second.ReleaseMarker == nil {
		t.Fatal("expected both release markers stamped")
	}
	if *second.ReleaseMarker <= *first.ReleaseMarker {
		t.Fatalf("markers must increase: %d then %d", *first.ReleaseMarker, *second.ReleaseMarker)
	}
}
