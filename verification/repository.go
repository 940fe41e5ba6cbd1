package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FactReader abstracts repository operations for the service. All reads
// return found=false for absent records and never require a caller identity.
type FactReader interface {
	GetMilestone(ctx context.Context, projectID, milestoneID string) (Milestone, bool, error)
	GetInspection(ctx context.Context, projectID, inspectionID string) (Inspection, bool, error)
	GetContractor(ctx context.Context, contractorID string) (Contractor, bool, error)
}

// PGRepository implements FactReader backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed verification repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetMilestone returns the milestone facts for (project, milestone).
func (r *PGRepository) GetMilestone(ctx context.Context, projectID, milestoneID string) (Milestone, bool, error) {
	const selectSQL = `
		SELECT project_id, milestone_id, completed, verified, payment_percentage
		FROM milestones
		WHERE project_id = $1 AND milestone_id = $2
	`
	var m Milestone
	err := r.pool.QueryRow(ctx, selectSQL, projectID, milestoneID).
		Scan(&m.ProjectID, &m.MilestoneID, &m.Completed, &m.Verified, &m.PaymentPercentage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, false, nil
		}
		return Milestone{}, false, fmt.Errorf("verification: get milestone: %w", err)
	}
	return m, true, nil
}

// GetInspection returns the inspection facts for (project, inspection).
func (r *PGRepository) GetInspection(ctx context.Context, projectID, inspectionID string) (Inspection, bool, error) {
	const selectSQL = `
		SELECT project_id, inspection_id, status, passed
		FROM inspections
		WHERE project_id = $1 AND inspection_id = $2
	`
	var i Inspection
	err := r.pool.QueryRow(ctx, selectSQL, projectID, inspectionID).
		Scan(&i.ProjectID, &i.InspectionID, &i.Status, &i.Passed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inspection{}, false, nil
		}
		return Inspection{}, false, fmt.Errorf("verification: get inspection: %w", err)
	}
	return i, true, nil
}

// GetContractor returns the contractor facts for the identifier.
func (r *PGRepository) GetContractor(ctx context.Context, contractorID string) (Contractor, bool, error) {
	const selectSQL = `
		SELECT id, name, is_verified, rating
		FROM contractors
		WHERE id = $1
	`
	var c Contractor
	err := r.pool.QueryRow(ctx, selectSQL, contractorID).
		Scan(&c.ID, &c.Name, &c.IsVerified, &c.Rating)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contractor{}, false, nil
		}
		return Contractor{}, false, fmt.Errorf("verification: get contractor: %w", err)
	}
	return c, true, nil
}
