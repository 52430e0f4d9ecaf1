package item

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("item: not found")
	ErrResolved    = errors.New("item: already resolved")
	ErrInvalidItem = errors.New("item: invalid item")
)

// Reader exposes the non-transactional queries used by planning.
type Reader interface {
	Get(ctx context.Context, id string) (CreditItem, error)
	List(ctx context.Context, filters Filters) ([]CreditItem, error)
}

// Repository is the full item store. Writes always run inside the caller's
// transaction so item state moves together with execution state.
type Repository interface {
	Reader
	Create(ctx context.Context, tx pgx.Tx, it CreditItem) (CreditItem, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (CreditItem, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) error
	AppendAttempt(ctx context.Context, tx pgx.Tx, attempt Attempt) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const itemColumns = `id, owner_id, type::text, bureau, creditor_name, furnisher_address, account_number,
	balance, opened_at, closed_at, reported_at, payment_status, jurisdiction, remarks, status::text, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, it CreditItem) (CreditItem, error) {
	query := `
		INSERT INTO credit_items (id, owner_id, type, bureau, creditor_name, furnisher_address, account_number,
			balance, opened_at, closed_at, reported_at, payment_status, jurisdiction, remarks, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3::item_type, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::item_status)
		RETURNING ` + itemColumns

	row := tx.QueryRow(ctx, query,
		it.ID,
		it.OwnerID,
		it.Type,
		it.Bureau,
		it.CreditorName,
		it.FurnisherAddress,
		it.AccountNumber,
		it.Balance,
		it.OpenedAt,
		it.ClosedAt,
		it.ReportedAt,
		it.PaymentStatus,
		strings.ToUpper(it.Jurisdiction),
		it.Remarks,
		it.Status,
	)
	created, err := scanItem(row)
	if err != nil {
		return CreditItem{}, fmt.Errorf("item: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (CreditItem, error) {
	query := `SELECT ` + itemColumns + ` FROM credit_items WHERE id = $1`

	it, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditItem{}, ErrNotFound
		}
		return CreditItem{}, fmt.Errorf("item: get: %w", err)
	}
	history, err := loadHistory(ctx, r.pool, []string{it.ID})
	if err != nil {
		return CreditItem{}, err
	}
	it.History = history[it.ID]
	return it, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]CreditItem, error) {
	where := []string{"1=1"}
	args := []any{}

	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d::item_status", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Type != "" {
		where = append(where, fmt.Sprintf("type=$%d::item_type", len(args)+1))
		args = append(args, filters.Type)
	}

	query := `SELECT ` + itemColumns + ` FROM credit_items WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("item: list: %w", err)
	}
	defer rows.Close()

	items := make([]CreditItem, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("item: scan: %w", err)
		}
		items = append(items, it)
		ids = append(ids, it.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item: iterate: %w", err)
	}

	history, err := loadHistory(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].History = history[items[i].ID]
	}
	return items, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (CreditItem, error) {
	query := `SELECT ` + itemColumns + ` FROM credit_items WHERE id = $1 FOR UPDATE`

	it, err := scanItem(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditItem{}, ErrNotFound
		}
		return CreditItem{}, fmt.Errorf("item: get for update: %w", err)
	}
	history, err := loadHistory(ctx, tx, []string{it.ID})
	if err != nil {
		return CreditItem{}, err
	}
	it.History = history[it.ID]
	return it, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) error {
	const query = `
		UPDATE credit_items
		SET status = $2::item_status,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("item: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AppendAttempt(ctx context.Context, tx pgx.Tx, attempt Attempt) error {
	const query = `
		INSERT INTO dispute_attempts (item_id, execution_id, strategy_id, outcome, recorded_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, attempt.ItemID, attempt.ExecutionID, attempt.StrategyID, attempt.Outcome, attempt.RecordedAt); err != nil {
		return fmt.Errorf("item: append attempt: %w", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadHistory(ctx context.Context, q querier, ids []string) (map[string][]Attempt, error) {
	out := make(map[string][]Attempt, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
		SELECT item_id, COALESCE(execution_id::text, ''), strategy_id, outcome, recorded_at
		FROM dispute_attempts
		WHERE item_id = ANY($1)
		ORDER BY recorded_at, id
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("item: load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ItemID, &a.ExecutionID, &a.StrategyID, &a.Outcome, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("item: scan attempt: %w", err)
		}
		out[a.ItemID] = append(out[a.ItemID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item: iterate history: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (CreditItem, error) {
	var it CreditItem
	err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Type,
		&it.Bureau,
		&it.CreditorName,
		&it.FurnisherAddress,
		&it.AccountNumber,
		&it.Balance,
		&it.OpenedAt,
		&it.ClosedAt,
		&it.ReportedAt,
		&it.PaymentStatus,
		&it.Jurisdiction,
		&it.Remarks,
		&it.Status,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	return it, err
}
