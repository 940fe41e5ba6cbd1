package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"escrowflow/escrow"
	"escrowflow/outbox"
)

// paymentIDSpace is deliberately small so concurrent funders collide on the
// same identifiers and exercise the duplicate rejection path.
const paymentIDSpace = 40

// maxConsecutiveFailures bounds how long an actor rides out transient
// connection errors injected by chaos before giving up.
const maxConsecutiveFailures = 50

func tolerable(err error) bool {
	if err == nil {
		return true
	}
	// every coded ledger refusal is expected under contention
	if _, ok := escrow.CodeOf(err); ok {
		return true
	}
	return false
}

// Funder adds payments against the escrow, colliding with other funders on
// payment identifiers.
func Funder(ctx context.Context, svc *escrow.Service, client, escrowID string, stop <-chan struct{}) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.AddPayment(ctx, client, escrow.AddPaymentParams{
			EscrowID:    escrowID,
			PaymentID:   fmt.Sprintf("pay-%d", rand.Intn(paymentIDSpace)),
			MilestoneID: fmt.Sprintf("m-%d", rand.Intn(paymentIDSpace)),
			Amount:      int64(1 + rand.Intn(50)),
		})
		if tolerable(err) {
			failures = 0
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxConsecutiveFailures {
				return fmt.Errorf("funder: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Releaser races other releasers over the same payment identifiers. Double
// releases and overdraws must come back as coded refusals, never as corrupted
// totals.
func Releaser(ctx context.Context, svc *escrow.Service, client, escrowID string, stop <-chan struct{}) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		paymentID := fmt.Sprintf("pay-%d", rand.Intn(paymentIDSpace))
		_, err := svc.ReleasePayment(ctx, client, escrowID, paymentID)
		if tolerable(err) {
			failures = 0
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxConsecutiveFailures {
				return fmt.Errorf("releaser: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer flips the escrow into dispute as the contractor and lets the admin
// resolve it back, stalling releases in between.
func Disputer(ctx context.Context, svc *escrow.Service, contractor, admin, escrowID string, stop <-chan struct{}) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Dispute(ctx, contractor, escrowID)
		if tolerable(err) {
			time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
			_, err = svc.Resolve(ctx, admin, escrowID, escrow.StatusActive)
		}
		if tolerable(err) {
			failures = 0
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxConsecutiveFailures {
				return fmt.Errorf("disputer: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Intruder hammers mutations with principals that hold no rights; every call
// must be refused.
func Intruder(ctx context.Context, svc *escrow.Service, escrowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		caller := fmt.Sprintf("intruder-%d", rand.Intn(5))
		if _, err := svc.ReleasePayment(ctx, caller, escrowID, fmt.Sprintf("pay-%d", rand.Intn(paymentIDSpace))); err == nil {
			return errors.New("intruder: release accepted for unknown principal")
		}
		if _, err := svc.Close(ctx, caller, escrowID); err == nil {
			return errors.New("intruder: close accepted for unknown principal")
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox through the relay so the liveness oracle has
// a consumer to observe.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := relay.DrainOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxConsecutiveFailures {
				return fmt.Errorf("outbox worker: %w", err)
			}
		} else {
			failures = 0
		}
		time.Sleep(100 * time.Millisecond)
	}
}
