package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAdminUnset signals the admin cell has not been seeded yet.
var ErrAdminUnset = errors.New("authority: admin principal not configured")

// Repository handles data access for the admin cell.
type Repository interface {
	EnsureAdmin(ctx context.Context, principal string) error
	CurrentAdmin(ctx context.Context) (Admin, error)
	IsAdmin(ctx context.Context, principal string) (bool, error)
	TransferAdmin(ctx context.Context, caller, newPrincipal string) (Admin, error)
}

// ErrTransferDenied signals the caller is not the current admin.
var ErrTransferDenied = errors.New("authority: transfer denied")

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed authority repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// EnsureAdmin seeds the admin cell with the deployer identity. A cell that is
// already populated is left untouched.
func (r *PGRepository) EnsureAdmin(ctx context.Context, principal string) error {
	if principal == "" {
		return fmt.Errorf("authority: empty admin principal")
	}
	const insertSQL = `
		INSERT INTO admin_config (singleton, principal)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insertSQL, principal); err != nil {
		return fmt.Errorf("authority: ensure admin: %w", err)
	}
	return nil
}

// CurrentAdmin returns the admin cell contents.
func (r *PGRepository) CurrentAdmin(ctx context.Context) (Admin, error) {
	var a Admin
	err := r.pool.QueryRow(ctx, `SELECT principal, updated_at FROM admin_config WHERE singleton`).
		Scan(&a.Principal, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admin{}, ErrAdminUnset
		}
		return Admin{}, fmt.Errorf("authority: current admin: %w", err)
	}
	return a, nil
}

// IsAdmin reports whether the principal matches the admin cell.
func (r *PGRepository) IsAdmin(ctx context.Context, principal string) (bool, error) {
	if principal == "" {
		return false, nil
	}
	var match bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admin_config WHERE singleton AND principal = $1)`, principal).
		Scan(&match)
	if err != nil {
		return false, fmt.Errorf("authority: is admin: %w", err)
	}
	return match, nil
}

// TransferAdmin swaps the admin principal. The guarded UPDATE makes the
// caller-is-admin check and the swap one atomic statement.
func (r *PGRepository) TransferAdmin(ctx context.Context, caller, newPrincipal string) (Admin, error) {
	const updateSQL = `
		UPDATE admin_config
		SET principal = $2, updated_at = now()
		WHERE singleton AND principal = $1
		RETURNING principal, updated_at
	`
	var a Admin
	err := r.pool.QueryRow(ctx, updateSQL, caller, newPrincipal).Scan(&a.Principal, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admin{}, ErrTransferDenied
		}
		return Admin{}, fmt.Errorf("authority: transfer admin: %w", err)
	}
	return a, nil
}
