package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound           = errors.New("dispute: not found")
	ErrInvalidTransition  = errors.New("dispute: invalid state transition")
	ErrResponseWindowOpen = errors.New("dispute: response window still open")
	ErrInvalidOutcome     = errors.New("dispute: invalid outcome")
	ErrExecutionInFlight  = errors.New("dispute: execution already in flight for item and strategy")
	ErrAlreadyCompleted   = errors.New("dispute: strategy already completed for item")
	// ErrDuplicateIdempotencyKey signals the key was recorded by an earlier request.
	ErrDuplicateIdempotencyKey = errors.New("dispute: duplicate idempotency key")
)

const uniqueViolation = "23505"

// Repository is the execution store. Writes join the caller's transaction.
type Repository interface {
	Get(ctx context.Context, id string) (Execution, error)
	List(ctx context.Context, filters Filters) ([]Execution, error)
	ListFollowUps(ctx context.Context, executionID string) ([]FollowUp, error)
	LookupIdempotencyKey(ctx context.Context, key string) (string, error)

	Create(ctx context.Context, tx pgx.Tx, e Execution) (Execution, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Execution, error)
	Update(ctx context.Context, tx pgx.Tx, e Execution) error
	// ListInFlight returns the non-terminal executions for (itemID, strategyID).
	ListInFlight(ctx context.Context, tx pgx.Tx, itemID, strategyID string) ([]Execution, error)
	HasCompleted(ctx context.Context, tx pgx.Tx, itemID, strategyID string) (bool, error)
	// CountExecuting counts executing executions on itemID other than excludeID.
	CountExecuting(ctx context.Context, tx pgx.Tx, itemID, excludeID string) (int, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) error
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key, executionID string) error

	ScheduleFollowUps(ctx context.Context, tx pgx.Tx, followUps []FollowUp) error
	CancelFollowUps(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) (int, error)
	// ClaimDueFollowUps locks up to limit scheduled follow-ups due at asOf,
	// skipping rows another worker holds.
	ClaimDueFollowUps(ctx context.Context, tx pgx.Tx, asOf time.Time, limit int) ([]FollowUp, error)
	CompleteFollowUp(ctx context.Context, tx pgx.Tx, id string, status FollowUpStatus, at time.Time) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const executionColumns = `id, owner_id, item_id, strategy_id, state::text, recipient_kind, recipient, success,
	COALESCE(outcome, ''), outcome_details, failure_reason, next_strategy_id, sent_at, responded_at, created_at, updated_at`

const followUpColumns = `id, execution_id, type::text, scheduled_for, description, automatable, status::text, completed_at`

func (r *PGRepository) Get(ctx context.Context, id string) (Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM dispute_executions WHERE id = $1`
	e, err := scanExecution(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Execution{}, ErrNotFound
		}
		return Execution{}, fmt.Errorf("dispute: get: %w", err)
	}
	return e, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Execution, error) {
	where := []string{"1=1"}
	args := []any{}
	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.ItemID != "" {
		where = append(where, fmt.Sprintf("item_id=$%d", len(args)+1))
		args = append(args, filters.ItemID)
	}
	if filters.State != "" {
		where = append(where, fmt.Sprintf("state=$%d::execution_state", len(args)+1))
		args = append(args, filters.State)
	}

	query := `SELECT ` + executionColumns + ` FROM dispute_executions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	return collectExecutions(rows)
}

func (r *PGRepository) ListFollowUps(ctx context.Context, executionID string) ([]FollowUp, error) {
	query := `SELECT ` + followUpColumns + ` FROM dispute_follow_ups WHERE execution_id = $1 ORDER BY scheduled_for, id`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list follow-ups: %w", err)
	}
	return collectFollowUps(rows)
}

func (r *PGRepository) LookupIdempotencyKey(ctx context.Context, key string) (string, error) {
	var executionID string
	err := r.pool.QueryRow(ctx, `SELECT execution_id::text FROM idempotency WHERE key = $1`, key).Scan(&executionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("dispute: lookup idempotency key: %w", err)
	}
	return executionID, nil
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, e Execution) (Execution, error) {
	query := `
		INSERT INTO dispute_executions (id, owner_id, item_id, strategy_id, state, recipient_kind, recipient,
			outcome_details, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::execution_state, $6, $7, $8, $9, $10, $10)
		RETURNING ` + executionColumns

	created, err := scanExecution(tx.QueryRow(ctx, query,
		e.ID,
		e.OwnerID,
		e.ItemID,
		e.StrategyID,
		e.State,
		e.RecipientKind,
		e.Recipient,
		e.OutcomeDetails,
		e.FailureReason,
		e.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Execution{}, ErrExecutionInFlight
		}
		return Execution{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM dispute_executions WHERE id = $1 FOR UPDATE`
	e, err := scanExecution(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Execution{}, ErrNotFound
		}
		return Execution{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return e, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, e Execution) error {
	const query = `
		UPDATE dispute_executions
		SET state = $2::execution_state,
		    success = $3,
		    outcome = NULLIF($4, ''),
		    outcome_details = $5,
		    failure_reason = $6,
		    next_strategy_id = $7,
		    sent_at = $8,
		    responded_at = $9,
		    updated_at = $10
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query,
		e.ID,
		e.State,
		e.Success,
		string(e.Outcome),
		e.OutcomeDetails,
		e.FailureReason,
		e.NextStrategyID,
		e.SentAt,
		e.RespondedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListInFlight(ctx context.Context, tx pgx.Tx, itemID, strategyID string) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM dispute_executions
		WHERE item_id = $1 AND strategy_id = $2 AND state NOT IN ('completed', 'failed')
		ORDER BY created_at, id`
	rows, err := tx.Query(ctx, query, itemID, strategyID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list in flight: %w", err)
	}
	return collectExecutions(rows)
}

func (r *PGRepository) HasCompleted(ctx context.Context, tx pgx.Tx, itemID, strategyID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dispute_executions
			WHERE item_id = $1 AND strategy_id = $2 AND state = 'completed'
		)`, itemID, strategyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dispute: has completed: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) CountExecuting(ctx context.Context, tx pgx.Tx, itemID, excludeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM dispute_executions
		WHERE item_id = $1 AND id <> $2 AND state = 'executing'`, itemID, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dispute: count executing: %w", err)
	}
	return n, nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	const query = `
		INSERT INTO dispute_events (execution_id, type, from_state, to_state, payload, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5::jsonb, $6)
	`
	if _, err := tx.Exec(ctx, query, ev.ExecutionID, ev.Type, string(ev.From), string(ev.To), toJSON(ev.Payload), ev.At); err != nil {
		return fmt.Errorf("dispute: append event: %w", err)
	}
	return nil
}

// InsertIdempotencyKey reserves key inside the active transaction. A
// duplicate aborts the transaction; callers must roll back before reading.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key, executionID string) error {
	if key == "" {
		return fmt.Errorf("dispute: empty idempotency key")
	}
	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key, execution_id) VALUES ($1, $2)`, key, executionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("dispute: insert idempotency key: %w", err)
	}
	return nil
}

func (r *PGRepository) ScheduleFollowUps(ctx context.Context, tx pgx.Tx, followUps []FollowUp) error {
	const query = `
		INSERT INTO dispute_follow_ups (id, execution_id, type, scheduled_for, description, automatable, status)
		VALUES ($1, $2, $3::follow_up_type, $4, $5, $6, $7::follow_up_status)
	`
	for _, f := range followUps {
		if _, err := tx.Exec(ctx, query, f.ID, f.ExecutionID, f.Type, f.ScheduledFor, f.Description, f.Automatable, f.Status); err != nil {
			return fmt.Errorf("dispute: schedule follow-up: %w", err)
		}
	}
	return nil
}

func (r *PGRepository) CancelFollowUps(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE dispute_follow_ups
		SET status = 'cancelled', completed_at = $2
		WHERE execution_id = $1 AND status = 'scheduled'`, executionID, at)
	if err != nil {
		return 0, fmt.Errorf("dispute: cancel follow-ups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDueFollowUps locks the follow-up and its execution together so a
// concurrent response on the same execution is skipped rather than waited on.
func (r *PGRepository) ClaimDueFollowUps(ctx context.Context, tx pgx.Tx, asOf time.Time, limit int) ([]FollowUp, error) {
	query := `
		SELECT f.id, f.execution_id, f.type::text, f.scheduled_for, f.description, f.automatable, f.status::text, f.completed_at
		FROM dispute_follow_ups f
		JOIN dispute_executions e ON e.id = f.execution_id
		WHERE f.status = 'scheduled' AND f.scheduled_for <= $1
		ORDER BY f.scheduled_for, f.id
		LIMIT $2
		FOR UPDATE OF f, e SKIP LOCKED`
	rows, err := tx.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("dispute: claim follow-ups: %w", err)
	}
	return collectFollowUps(rows)
}

func (r *PGRepository) CompleteFollowUp(ctx context.Context, tx pgx.Tx, id string, status FollowUpStatus, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE dispute_follow_ups
		SET status = $2::follow_up_status, completed_at = $3
		WHERE id = $1`, id, status, at)
	if err != nil {
		return fmt.Errorf("dispute: complete follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectExecutions(rows pgx.Rows) ([]Execution, error) {
	defer rows.Close()
	out := make([]Execution, 0, 8)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func collectFollowUps(rows pgx.Rows) ([]FollowUp, error) {
	defer rows.Close()
	out := make([]FollowUp, 0, 4)
	for rows.Next() {
		var f FollowUp
		if err := rows.Scan(&f.ID, &f.ExecutionID, &f.Type, &f.ScheduledFor, &f.Description, &f.Automatable, &f.Status, &f.CompletedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan follow-up: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate follow-ups: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (Execution, error) {
	var e Execution
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.ItemID,
		&e.StrategyID,
		&e.State,
		&e.RecipientKind,
		&e.Recipient,
		&e.Success,
		&e.Outcome,
		&e.OutcomeDetails,
		&e.FailureReason,
		&e.NextStrategyID,
		&e.SentAt,
		&e.RespondedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}

func toJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}
