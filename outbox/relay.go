package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher receives drained outbox messages. The default implementation logs
// them; a broker client can be slotted in behind the same interface.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// LogPublisher writes published messages to the structured log.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.Logger.InfoContext(ctx, "outbox publish", "topic", topic, "payload", string(payload))
	return nil
}

const maxAttempts = 5

// Relay drains pending outbox rows and hands them to the publisher. Rows are
// claimed with FOR UPDATE SKIP LOCKED so multiple relays never double-publish.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
}

// NewRelay builds a relay polling at the given interval.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, logger *slog.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
	}
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.ErrorContext(ctx, "outbox drain", "error", err)
			} else if n > 0 {
				r.logger.DebugContext(ctx, "outbox drained", "count", n)
			}
		}
	}
}

// DrainOnce claims and publishes one batch of pending messages, returning how
// many were processed.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id, topic, payload
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 50
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, claimSQL)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim: %w", err)
	}

	type message struct {
		id      string
		topic   string
		payload []byte
	}
	batch := make([]message, 0, 50)
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.id, &m.topic, &m.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate: %w", err)
	}

	processed := 0
	for _, m := range batch {
		if err := r.publisher.Publish(ctx, m.topic, m.payload); err != nil {
			const failSQL = `
				UPDATE outbox
				SET attempts = attempts + 1,
				    status = CASE WHEN attempts + 1 >= $2 THEN 'dead' ELSE 'pending' END
				WHERE id = $1
			`
			if _, uerr := tx.Exec(ctx, failSQL, m.id, maxAttempts); uerr != nil {
				return processed, fmt.Errorf("outbox: record failure: %w", uerr)
			}
			r.logger.WarnContext(ctx, "outbox publish failed", "id", m.id, "topic", m.topic, "error", err)
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1 WHERE id = $1`, m.id); err != nil {
			return processed, fmt.Errorf("outbox: mark processed: %w", err)
		}
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return processed, fmt.Errorf("outbox: commit: %w", err)
	}
	return processed, nil
}
