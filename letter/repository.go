package letter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("letter: not found")

// Repository stores one letter per execution. Writes join the caller's
// transaction.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, l Letter) (Letter, error)
	MarkSent(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) error
	GetByExecution(ctx context.Context, executionID string) (Letter, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const letterColumns = `id, execution_id, recipient_type, recipient_name, recipient_address, subject, body,
	citations, enhanced, status, created_at, sent_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, l Letter) (Letter, error) {
	query := `
		INSERT INTO dispute_letters (id, execution_id, recipient_type, recipient_name, recipient_address,
			subject, body, citations, enhanced, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + letterColumns

	if l.Status == "" {
		l.Status = StatusDraft
	}
	created, err := scanLetter(tx.QueryRow(ctx, query,
		l.ID,
		l.ExecutionID,
		l.RecipientType,
		l.RecipientName,
		l.RecipientAddress,
		l.Subject,
		l.Body,
		l.Citations,
		l.Enhanced,
		l.Status,
	))
	if err != nil {
		return Letter{}, fmt.Errorf("letter: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) MarkSent(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) error {
	const query = `
		UPDATE dispute_letters
		SET status = 'sent',
		    sent_at = $2
		WHERE execution_id = $1 AND status = 'draft'
	`
	tag, err := tx.Exec(ctx, query, executionID, at)
	if err != nil {
		return fmt.Errorf("letter: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) GetByExecution(ctx context.Context, executionID string) (Letter, error) {
	query := `SELECT ` + letterColumns + ` FROM dispute_letters WHERE execution_id = $1`
	l, err := scanLetter(r.pool.QueryRow(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Letter{}, ErrNotFound
		}
		return Letter{}, fmt.Errorf("letter: get by execution: %w", err)
	}
	return l, nil
}

func scanLetter(row pgx.Row) (Letter, error) {
	var l Letter
	err := row.Scan(
		&l.ID,
		&l.ExecutionID,
		&l.RecipientType,
		&l.RecipientName,
		&l.RecipientAddress,
		&l.Subject,
		&l.Body,
		&l.Citations,
		&l.Enhanced,
		&l.Status,
		&l.CreatedAt,
		&l.SentAt,
	)
	return l, err
}
