package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_released_within_total",
			SQL: `SELECT id, total_amount, released_amount FROM escrows
                  WHERE released_amount > total_amount OR released_amount < 0`,
		},
		{
			Name: "O2_ledger_balance",
			SQL: `SELECT e.id, e.released_amount, COALESCE(SUM(p.amount), 0) AS released_sum
                  FROM escrows e
                  LEFT JOIN payments p ON p.escrow_id = e.id AND p.status = 'released'
                  GROUP BY e.id, e.released_amount
                  HAVING e.released_amount <> COALESCE(SUM(p.amount), 0)`,
		},
		{
			Name: "O3_marker_iff_released",
			SQL: `SELECT escrow_id, payment_id, status, release_marker FROM payments
                  WHERE (status = 'released') <> (release_marker IS NOT NULL)`,
		},
		{
			Name: "O4_marker_unique",
			SQL: `SELECT release_marker, COUNT(*) FROM payments
                  WHERE release_marker IS NOT NULL
                  GROUP BY release_marker HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT escrow_id, seq,
                             LAG(seq) OVER (PARTITION BY escrow_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_outbox_liveness",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O7_admin_singleton",
			SQL: `SELECT 'multiple_admin_rows' AS detail
                  WHERE (SELECT COUNT(*) FROM admin_config) > 1`,
		},
		{
			Name: "O8_delete_guards_present",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_escrows')
                     OR NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_payments')
                     OR NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_timeline')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
