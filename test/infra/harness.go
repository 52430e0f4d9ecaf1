package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Harness owns the database the stress run talks to: a reused DSN, a
// testcontainers Postgres, or a local server, in that order of preference.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness resolves a database and applies the migrations. dsn, or
// STRESS_TEST_PG_DSN when dsn is empty, selects a shared database and
// isolates the run in its own schema.
func NewHarness(ctx context.Context, dsn string, logger *zap.Logger) (*Harness, error) {
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}
	h := &Harness{container: &PGContainer{}}
	shared := dsn != ""

	var err error
	switch {
	case shared:
	case dockerAvailable(ctx):
		h.container, dsn, err = StartPostgres16(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
	default:
		dsn, err = InitLocalDatabase(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
	}
	h.dsn = dsn

	h.pool, h.teardown, err = OpenMigrated(ctx, dsn, shared, logger)
	if err != nil {
		_ = h.container.Terminate(context.Background())
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return h, nil
}

// Pool exposes the migrated pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops the run schema when isolated and stops the container if one
// was started. It returns the teardown error, if any.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	err := h.teardown(ctx)
	if terr := h.container.Terminate(ctx); err == nil {
		err = terr
	}
	return err
}

// Reset truncates every mutable table for a clean slate between epochs.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"idempotency",
		"outbox",
		"dispute_events",
		"dispute_follow_ups",
		"dispute_letters",
		"dispute_attempts",
		"dispute_executions",
		"credit_items",
		"consumers",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
