package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the data access required by the service. Methods taking
// a pgx.Tx participate in the caller's transaction; the rest are plain reads.
type Repository interface {
	GetEscrow(ctx context.Context, escrowID string) (Escrow, bool, error)
	GetPayment(ctx context.Context, escrowID, paymentID string) (Payment, bool, error)

	InsertEscrow(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error)
	LockEscrow(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, error)
	SetEscrowStatus(ctx context.Context, tx pgx.Tx, escrowID string, status Status) (Escrow, error)
	InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	LockPayment(ctx context.Context, tx pgx.Tx, escrowID, paymentID string) (Payment, error)
	MarkPaymentReleased(ctx context.Context, tx pgx.Tx, escrowID, paymentID string) (Payment, error)
	AddReleasedAmount(ctx context.Context, tx pgx.Tx, escrowID string, amount int64) (Escrow, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, escrowID, eventType string, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

const escrowColumns = `id, project_id, client, contractor, total_amount, released_amount, status::text, created_at, updated_at`

const paymentColumns = `escrow_id, payment_id, milestone_id, amount, status::text, release_marker, created_at, released_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed escrow repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetEscrow returns the escrow record, or found=false when absent. Pure read,
// no authorization required.
func (r *PGRepository) GetEscrow(ctx context.Context, escrowID string) (Escrow, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, escrowID)
	e, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, false, nil
		}
		return Escrow{}, false, fmt.Errorf("escrow: get escrow: %w", err)
	}
	return e, true, nil
}

// GetPayment returns the payment record, or found=false when absent.
func (r *PGRepository) GetPayment(ctx context.Context, escrowID, paymentID string) (Payment, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE escrow_id = $1 AND payment_id = $2`, escrowID, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, fmt.Errorf("escrow: get payment: %w", err)
	}
	return p, true, nil
}

// InsertEscrow stores a new active escrow. A primary-key collision maps to
// ErrAlreadyExists.
func (r *PGRepository) InsertEscrow(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error) {
	const insertSQL = `
		INSERT INTO escrows (id, project_id, client, contractor, total_amount, released_amount, status)
		VALUES ($1, $2, $3, $4, $5, 0, 'active')
		RETURNING ` + escrowColumns

	stored, err := scanEscrow(tx.QueryRow(ctx, insertSQL, e.ID, e.ProjectID, e.Client, e.Contractor, e.TotalAmount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Escrow{}, ErrAlreadyExists
		}
		return Escrow{}, fmt.Errorf("escrow: insert escrow: %w", err)
	}
	return stored, nil
}

// LockEscrow loads the escrow row under FOR UPDATE so the caller's transaction
// is the only mutation in flight for this escrow.
func (r *PGRepository) LockEscrow(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, error) {
	row := tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, escrowID)
	e, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: lock escrow: %w", err)
	}
	return e, nil
}

// SetEscrowStatus updates the escrow lifecycle status. The caller must already
// hold the row lock.
func (r *PGRepository) SetEscrowStatus(ctx context.Context, tx pgx.Tx, escrowID string, status Status) (Escrow, error) {
	const updateSQL = `
		UPDATE escrows
		SET status = $2::escrow_status, updated_at = now()
		WHERE id = $1
		RETURNING ` + escrowColumns

	e, err := scanEscrow(tx.QueryRow(ctx, updateSQL, escrowID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: set status: %w", err)
	}
	return e, nil
}

// InsertPayment stores a new pending payment. A duplicate (escrow_id,
// payment_id) pair maps to ErrAlreadyExists rather than overwriting.
func (r *PGRepository) InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	const insertSQL = `
		INSERT INTO payments (escrow_id, payment_id, milestone_id, amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING ` + paymentColumns

	stored, err := scanPayment(tx.QueryRow(ctx, insertSQL, p.EscrowID, p.PaymentID, p.MilestoneID, p.Amount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrAlreadyExists
		}
		return Payment{}, fmt.Errorf("escrow: insert payment: %w", err)
	}
	return stored, nil
}

// LockPayment loads the payment row under FOR UPDATE.
func (r *PGRepository) LockPayment(ctx context.Context, tx pgx.Tx, escrowID, paymentID string) (Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE escrow_id = $1 AND payment_id = $2 FOR UPDATE`, escrowID, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("escrow: lock payment: %w", err)
	}
	return p, nil
}

// MarkPaymentReleased flips the payment to released and stamps the release
// marker from the shared sequence.
func (r *PGRepository) MarkPaymentReleased(ctx context.Context, tx pgx.Tx, escrowID, paymentID string) (Payment, error) {
	const updateSQL = `
		UPDATE payments
		SET status = 'released',
		    release_marker = nextval('release_marker_seq'),
		    released_at = now()
		WHERE escrow_id = $1 AND payment_id = $2
		RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, updateSQL, escrowID, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("escrow: mark released: %w", err)
	}
	return p, nil
}

// AddReleasedAmount bumps the escrow's running released total inside the same
// transaction that released the payment.
func (r *PGRepository) AddReleasedAmount(ctx context.Context, tx pgx.Tx, escrowID string, amount int64) (Escrow, error) {
	const updateSQL = `
		UPDATE escrows
		SET released_amount = released_amount + $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + escrowColumns

	e, err := scanEscrow(tx.QueryRow(ctx, updateSQL, escrowID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: add released amount: %w", err)
	}
	return e, nil
}

// AppendTimeline inserts an append-only audit event. The per-escrow sequence
// is assigned under the escrow row lock held by the caller.
func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, escrowID, eventType string, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const insertSQL = `
		INSERT INTO timeline_events (escrow_id, seq, type, actor_id, payload)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE escrow_id = $1), $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, escrowID, eventType, actor, body); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox writes a transactional outbox message for the relay.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal outbox payload: %w", err)
	}

	const insertSQL = `
		INSERT INTO outbox (id, topic, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, uuid.NewString(), topic, body); err != nil {
		return fmt.Errorf("escrow: insert outbox message: %w", err)
	}
	return nil
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var e Escrow
	err := row.Scan(
		&e.ID,
		&e.ProjectID,
		&e.Client,
		&e.Contractor,
		&e.TotalAmount,
		&e.ReleasedAmount,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return Escrow{}, err
	}
	return e, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.EscrowID,
		&p.PaymentID,
		&p.MilestoneID,
		&p.Amount,
		&p.Status,
		&p.ReleaseMarker,
		&p.CreatedAt,
		&p.ReleasedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
