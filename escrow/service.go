package escrow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AdminChecker answers whether a principal is the current admin.
type AdminChecker interface {
	IsAdmin(ctx context.Context, principal string) (bool, error)
}

// MilestoneFact is the subset of the milestone registry the ledger consults
// before releasing funds. The registry itself is owned elsewhere.
type MilestoneFact struct {
	Completed         bool
	Verified          bool
	PaymentPercentage int
}

// MilestoneReader supplies milestone facts for release gating.
type MilestoneReader interface {
	GetMilestone(ctx context.Context, projectID, milestoneID string) (MilestoneFact, bool, error)
}

// ContractorFact is the subset of the contractor registry consulted at escrow
// creation.
type ContractorFact struct {
	IsVerified bool
	Rating     int
}

// ContractorReader supplies contractor facts for creation gating.
type ContractorReader interface {
	GetContractor(ctx context.Context, contractorID string) (ContractorFact, bool, error)
}

// Service executes the escrow state machine. Every mutating operation runs as
// one transaction: the escrow row is locked first, so per-escrow operations
// are linearizable regardless of pool concurrency.
type Service struct {
	pool        TxBeginner
	repo        Repository
	admins      AdminChecker
	contractors ContractorReader
	milestones  MilestoneReader
}

// NewService wires the escrow core. The contractor and milestone gates are off
// until enabled via RequireVerifiedContractors / RequireVerifiedMilestones.
func NewService(pool TxBeginner, repo Repository, admins AdminChecker) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		admins: admins,
	}
}

// RequireVerifiedContractors makes Create reject contractors the directory
// does not report as verified.
func (s *Service) RequireVerifiedContractors(dir ContractorReader) {
	s.contractors = dir
}

// RequireVerifiedMilestones makes ReleasePayment require a verified milestone
// fact for the payment's milestone reference.
func (s *Service) RequireVerifiedMilestones(r MilestoneReader) {
	s.milestones = r
}

// Create stores a new active escrow owned by the caller.
func (s *Service) Create(ctx context.Context, caller string, params CreateParams) (Escrow, error) {
	if caller == "" {
		return Escrow{}, fmt.Errorf("escrow: caller required")
	}
	if params.EscrowID == "" || params.ProjectID == "" {
		return Escrow{}, fmt.Errorf("escrow: escrow id and project id required")
	}
	if params.Contractor == "" {
		return Escrow{}, fmt.Errorf("escrow: contractor required")
	}
	if params.TotalAmount < 0 {
		return Escrow{}, fmt.Errorf("escrow: total amount must be non-negative")
	}

	if s.contractors != nil {
		fact, found, err := s.contractors.GetContractor(ctx, params.Contractor)
		if err != nil {
			return Escrow{}, err
		}
		if !found || !fact.IsVerified {
			return Escrow{}, fmt.Errorf("escrow: contractor %s is not verified", params.Contractor)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := s.repo.InsertEscrow(ctx, tx, Escrow{
		ID:          params.EscrowID,
		ProjectID:   params.ProjectID,
		Client:      caller,
		Contractor:  params.Contractor,
		TotalAmount: params.TotalAmount,
	})
	if err != nil {
		return Escrow{}, err
	}

	payload := map[string]any{
		"project_id":   stored.ProjectID,
		"contractor":   stored.Contractor,
		"total_amount": stored.TotalAmount,
	}
	if err := s.repo.AppendTimeline(ctx, tx, stored.ID, EventEscrowCreated, caller, payload); err != nil {
		return Escrow{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicEscrowCreated, map[string]any{
		"escrow_id":    stored.ID,
		"project_id":   stored.ProjectID,
		"client":       stored.Client,
		"contractor":   stored.Contractor,
		"total_amount": stored.TotalAmount,
	}); err != nil {
		return Escrow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return stored, nil
}

// Get returns the escrow record, or found=false when absent.
func (s *Service) Get(ctx context.Context, escrowID string) (Escrow, bool, error) {
	return s.repo.GetEscrow(ctx, escrowID)
}

// Close moves an active escrow to its terminal closed state. Client or admin
// only; a closed escrow is immutable history.
func (s *Service) Close(ctx context.Context, caller, escrowID string) (Escrow, error) {
	return s.transition(ctx, caller, escrowID, transitionSpec{
		authorize: s.clientOrAdmin,
		from:      StatusActive,
		to:        StatusClosed,
		event:     EventEscrowClosed,
		topic:     TopicEscrowClosed,
	})
}

// Dispute moves an active escrow to disputed. Only the parties to the escrow
// may raise a dispute; the admin is not sufficient here.
func (s *Service) Dispute(ctx context.Context, caller, escrowID string) (Escrow, error) {
	return s.transition(ctx, caller, escrowID, transitionSpec{
		authorize: func(ctx context.Context, e Escrow, caller string) (bool, error) {
			return e.IsClient(caller) || e.IsContractor(caller), nil
		},
		from:  StatusActive,
		to:    StatusDisputed,
		event: EventEscrowDisputed,
		topic: TopicEscrowDisputed,
	})
}

// Resolve settles a disputed escrow to the admin-chosen status. Only active
// and closed are accepted as outcomes so the rest of the state machine can
// keep reasoning about the record.
func (s *Service) Resolve(ctx context.Context, caller, escrowID string, newStatus Status) (Escrow, error) {
	if newStatus != StatusActive && newStatus != StatusClosed {
		return Escrow{}, fmt.Errorf("escrow: invalid resolution status %q", newStatus)
	}
	return s.transition(ctx, caller, escrowID, transitionSpec{
		authorize: func(ctx context.Context, e Escrow, caller string) (bool, error) {
			return s.admins.IsAdmin(ctx, caller)
		},
		from:    StatusDisputed,
		to:      newStatus,
		event:   EventDisputeResolved,
		topic:   TopicEscrowResolved,
		payload: map[string]any{"outcome": string(newStatus)},
	})
}

type transitionSpec struct {
	authorize func(ctx context.Context, e Escrow, caller string) (bool, error)
	from      Status
	to        Status
	event     string
	topic     string
	payload   map[string]any
}

func (s *Service) transition(ctx context.Context, caller, escrowID string, spec transitionSpec) (Escrow, error) {
	if caller == "" {
		return Escrow{}, fmt.Errorf("escrow: caller required")
	}
	if escrowID == "" {
		return Escrow{}, fmt.Errorf("escrow: escrow id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.repo.LockEscrow(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}

	allowed, err := spec.authorize(ctx, e, caller)
	if err != nil {
		return Escrow{}, err
	}
	if !allowed {
		return Escrow{}, ErrUnauthorized
	}
	if e.Status != spec.from {
		return Escrow{}, ErrInvalidState
	}

	updated, err := s.repo.SetEscrowStatus(ctx, tx, escrowID, spec.to)
	if err != nil {
		return Escrow{}, err
	}

	payload := map[string]any{
		"previous_status": string(spec.from),
		"next_status":     string(spec.to),
	}
	for k, v := range spec.payload {
		payload[k] = v
	}
	if err := s.repo.AppendTimeline(ctx, tx, escrowID, spec.event, caller, payload); err != nil {
		return Escrow{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, spec.topic, map[string]any{
		"escrow_id": escrowID,
		"previous":  string(spec.from),
		"next":      string(spec.to),
	}); err != nil {
		return Escrow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, fmt.Errorf("escrow: commit transition: %w", err)
	}
	return updated, nil
}

func (s *Service) clientOrAdmin(ctx context.Context, e Escrow, caller string) (bool, error) {
	if e.IsClient(caller) {
		return true, nil
	}
	return s.admins.IsAdmin(ctx, caller)
}
