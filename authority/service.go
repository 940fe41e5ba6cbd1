package authority

import (
	"context"
	"fmt"
)

// Service exposes the authorization-context operations: the admin predicate
// and the one mutation path the cell has, Transfer.
type Service struct {
	repo Repository
}

// NewService builds a Service using the provided repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureAdmin seeds the admin cell with the deployer identity at boot.
func (s *Service) EnsureAdmin(ctx context.Context, principal string) error {
	return s.repo.EnsureAdmin(ctx, principal)
}

// Current returns the admin cell contents.
func (s *Service) Current(ctx context.Context) (Admin, error) {
	return s.repo.CurrentAdmin(ctx)
}

// IsAdmin reports whether the principal holds admin rights.
func (s *Service) IsAdmin(ctx context.Context, principal string) (bool, error) {
	return s.repo.IsAdmin(ctx, principal)
}

// Transfer hands the admin cell to a new principal. Fails with
// ErrTransferDenied unless the caller is the current admin.
func (s *Service) Transfer(ctx context.Context, caller, newPrincipal string) (Admin, error) {
	if newPrincipal == "" {
		return Admin{}, fmt.Errorf("authority: new principal required")
	}
	if caller == "" {
		return Admin{}, ErrTransferDenied
	}
	return s.repo.TransferAdmin(ctx, caller, newPrincipal)
}
