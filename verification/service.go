package verification

import (
	"context"

	"escrowflow/escrow"
)

// Service exposes the collaborator facts consumed by the escrow core and the
// read-only API endpoints. It never mutates the underlying registries.
type Service struct {
	repo FactReader
}

// NewService builds a Service using the provided repository.
func NewService(repo FactReader) *Service {
	return &Service{repo: repo}
}

// GetMilestone returns milestone completion and verification facts.
func (s *Service) GetMilestone(ctx context.Context, projectID, milestoneID string) (Milestone, bool, error) {
	return s.repo.GetMilestone(ctx, projectID, milestoneID)
}

// GetInspection returns inspection pass/fail facts.
func (s *Service) GetInspection(ctx context.Context, projectID, inspectionID string) (Inspection, bool, error) {
	return s.repo.GetInspection(ctx, projectID, inspectionID)
}

// GetContractor returns contractor legitimacy facts.
func (s *Service) GetContractor(ctx context.Context, contractorID string) (Contractor, bool, error) {
	return s.repo.GetContractor(ctx, contractorID)
}

// MilestoneGate adapts the service to the escrow core's release precondition.
type MilestoneGate struct {
	Facts *Service
}

// GetMilestone implements escrow.MilestoneReader.
func (g MilestoneGate) GetMilestone(ctx context.Context, projectID, milestoneID string) (escrow.MilestoneFact, bool, error) {
	m, found, err := g.Facts.GetMilestone(ctx, projectID, milestoneID)
	if err != nil || !found {
		return escrow.MilestoneFact{}, found, err
	}
	return escrow.MilestoneFact{
		Completed:         m.Completed,
		Verified:          m.Verified,
		PaymentPercentage: m.PaymentPercentage,
	}, true, nil
}

// ContractorGate adapts the service to the escrow core's creation
// precondition.
type ContractorGate struct {
	Facts *Service
}

// GetContractor implements escrow.ContractorReader.
func (g ContractorGate) GetContractor(ctx context.Context, contractorID string) (escrow.ContractorFact, bool, error) {
	c, found, err := g.Facts.GetContractor(ctx, contractorID)
	if err != nil || !found {
		return escrow.ContractorFact{}, found, err
	}
	return escrow.ContractorFact{IsVerified: c.IsVerified, Rating: c.Rating}, true, nil
}
