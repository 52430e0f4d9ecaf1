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

// All returns the invariants checked against live data. Each query returns
// the violating rows, so an empty result is a pass.
func All(maxOutboxAttempts int) []Oracle {
	return []Oracle{
		{
			Name: "O1_single_in_flight_execution",
			SQL: `SELECT item_id, strategy_id, COUNT(*) FROM dispute_executions
                  WHERE state IN ('draft','pending','executing')
                  GROUP BY item_id, strategy_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_resolved_item_has_success",
			SQL: `SELECT i.id FROM credit_items i
                  WHERE i.status = 'resolved'
                    AND NOT EXISTS (SELECT 1 FROM dispute_executions e
                                    WHERE e.item_id = i.id AND e.state = 'completed' AND e.success)`,
		},
		{
			Name: "O3_disputed_item_has_executing",
			SQL: `SELECT i.id FROM credit_items i
                  WHERE i.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM dispute_executions e
                                    WHERE e.item_id = i.id AND e.state = 'executing')`,
		},
		{
			Name: "O4_no_follow_ups_on_terminal",
			SQL: `SELECT f.id, e.state FROM dispute_follow_ups f
                  JOIN dispute_executions e ON e.id = f.execution_id
                  WHERE f.status = 'scheduled' AND e.state IN ('completed','failed')`,
		},
		{
			Name: "O5_completed_has_one_attempt",
			SQL: `SELECT e.id, COUNT(a.id) FROM dispute_executions e
                  LEFT JOIN dispute_attempts a ON a.execution_id = e.id
                  WHERE e.state = 'completed'
                  GROUP BY e.id HAVING COUNT(a.id) <> 1`,
		},
		{
			Name: "O6_idempotency_key_on_completed",
			SQL: `SELECT k.key, e.state FROM idempotency k
                  JOIN dispute_executions e ON e.id = k.execution_id
                  WHERE e.state <> 'completed'`,
		},
		{
			Name: "O7_sent_letter_matches_execution",
			SQL: `SELECT l.id FROM dispute_letters l
                  JOIN dispute_executions e ON e.id = l.execution_id
                  WHERE (l.status = 'sent') <> (e.sent_at IS NOT NULL)`,
		},
		{
			Name: "O8_outbox_attempts_bounded",
			SQL: fmt.Sprintf(`SELECT id, status, attempts FROM outbox
                  WHERE attempts > %d OR (status = 'pending' AND attempts >= %d)`, maxOutboxAttempts, maxOutboxAttempts),
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, maxOutboxAttempts int) (string, string, error) {
	for _, o := range All(maxOutboxAttempts) {
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
