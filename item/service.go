package item

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service ingests normalized items handed over by the upstream report parser.
type Service struct {
	pool TxBeginner
	repo Repository
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo}
}

// Validate rejects items missing the fields the engine relies on.
func Validate(it CreditItem) error {
	if strings.TrimSpace(it.OwnerID) == "" {
		return fmt.Errorf("%w: owner id required", ErrInvalidItem)
	}
	switch it.Type {
	case TypeAccount, TypeInquiry, TypePublicRecord, TypeCollection:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidItem, it.Type)
	}
	if strings.TrimSpace(it.CreditorName) == "" {
		return fmt.Errorf("%w: creditor name required", ErrInvalidItem)
	}
	if it.Balance < 0 {
		return fmt.Errorf("%w: negative balance", ErrInvalidItem)
	}
	if it.OpenedAt != nil && it.ClosedAt != nil && it.ClosedAt.Before(*it.OpenedAt) {
		return fmt.Errorf("%w: closed before opened", ErrInvalidItem)
	}
	return nil
}

// Ingest stores a batch of parsed items in one transaction. New items always
// start active; history is owned by the lifecycle controller.
func (s *Service) Ingest(ctx context.Context, items []CreditItem) ([]CreditItem, error) {
	for i, it := range items {
		if err := Validate(it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("item: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]CreditItem, 0, len(items))
	for _, it := range items {
		it.Status = StatusActive
		it.History = nil
		created, err := s.repo.Create(ctx, tx, it)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("item: commit: %w", err)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, filters Filters) ([]CreditItem, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id string) (CreditItem, error) {
	return s.repo.Get(ctx, id)
}
