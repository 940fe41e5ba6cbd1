package escrow

import (
	"context"
	"fmt"
)

// AddPayment creates a pending payment against an active escrow. Client or
// admin only. Duplicate (escrow, payment) identifiers are rejected with
// ErrAlreadyExists so a replayed add can never double-fund a milestone.
func (s *Service) AddPayment(ctx context.Context, caller string, params AddPaymentParams) (Payment, error) {
	if caller == "" {
		return Payment{}, fmt.Errorf("escrow: caller required")
	}
	if params.EscrowID == "" || params.PaymentID == "" {
		return Payment{}, fmt.Errorf("escrow: escrow id and payment id required")
	}
	if params.MilestoneID == "" {
		return Payment{}, fmt.Errorf("escrow: milestone id required")
	}
	if params.Amount < 0 {
		return Payment{}, fmt.Errorf("escrow: amount must be non-negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.repo.LockEscrow(ctx, tx, params.EscrowID)
	if err != nil {
		return Payment{}, err
	}
	allowed, err := s.clientOrAdmin(ctx, e, caller)
	if err != nil {
		return Payment{}, err
	}
	if !allowed {
		return Payment{}, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return Payment{}, ErrInvalidState
	}

	stored, err := s.repo.InsertPayment(ctx, tx, Payment{
		EscrowID:    params.EscrowID,
		PaymentID:   params.PaymentID,
		MilestoneID: params.MilestoneID,
		Amount:      params.Amount,
	})
	if err != nil {
		return Payment{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, e.ID, EventPaymentAdded, caller, map[string]any{
		"payment_id":   stored.PaymentID,
		"milestone_id": stored.MilestoneID,
		"amount":       stored.Amount,
	}); err != nil {
		return Payment{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicPaymentAdded, map[string]any{
		"escrow_id":    stored.EscrowID,
		"payment_id":   stored.PaymentID,
		"milestone_id": stored.MilestoneID,
		"amount":       stored.Amount,
	}); err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("escrow: commit add payment: %w", err)
	}
	return stored, nil
}

// GetPayment returns the payment record, or found=false when absent.
func (s *Service) GetPayment(ctx context.Context, escrowID, paymentID string) (Payment, bool, error) {
	return s.repo.GetPayment(ctx, escrowID, paymentID)
}

// ReleasePayment flips a pending payment to released and bumps the escrow's
// released total in the same transaction. The escrow row lock taken first
// makes the two writes indivisible for every reader. A second release attempt
// fails ErrInvalidState instead of double-counting.
func (s *Service) ReleasePayment(ctx context.Context, caller, escrowID, paymentID string) (Payment, error) {
	if caller == "" {
		return Payment{}, fmt.Errorf("escrow: caller required")
	}
	if escrowID == "" || paymentID == "" {
		return Payment{}, fmt.Errorf("escrow: escrow id and payment id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.repo.LockEscrow(ctx, tx, escrowID)
	if err != nil {
		return Payment{}, err
	}
	allowed, err := s.clientOrAdmin(ctx, e, caller)
	if err != nil {
		return Payment{}, err
	}
	if !allowed {
		return Payment{}, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return Payment{}, ErrInvalidState
	}

	p, err := s.repo.LockPayment(ctx, tx, escrowID, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != PaymentPending {
		return Payment{}, ErrInvalidState
	}

	if s.milestones != nil {
		fact, found, err := s.milestones.GetMilestone(ctx, e.ProjectID, p.MilestoneID)
		if err != nil {
			return Payment{}, err
		}
		if !found || !fact.Verified {
			return Payment{}, ErrMilestoneUnverified
		}
	}

	if e.ReleasedAmount+p.Amount > e.TotalAmount {
		return Payment{}, ErrInsufficientFunds
	}

	released, err := s.repo.MarkPaymentReleased(ctx, tx, escrowID, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if _, err := s.repo.AddReleasedAmount(ctx, tx, escrowID, released.Amount); err != nil {
		return Payment{}, err
	}

	payload := map[string]any{
		"payment_id":   released.PaymentID,
		"milestone_id": released.MilestoneID,
		"amount":       released.Amount,
	}
	if released.ReleaseMarker != nil {
		payload["release_marker"] = *released.ReleaseMarker
	}
	if err := s.repo.AppendTimeline(ctx, tx, escrowID, EventPaymentReleased, caller, payload); err != nil {
		return Payment{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicPaymentReleased, map[string]any{
		"escrow_id":  released.EscrowID,
		"payment_id": released.PaymentID,
		"amount":     released.Amount,
	}); err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("escrow: commit release: %w", err)
	}
	return released, nil
}
