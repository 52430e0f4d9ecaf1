package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TerminateRandomBackend kills a random backend of the current database
// every few seconds, so actors see dropped connections mid-transaction.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var killed bool
			err := pool.QueryRow(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
				WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
				ORDER BY random() LIMIT 1`).Scan(&killed)
			if err == nil && killed {
				logger.Debug("chaos: backend terminated")
			}
		}
	}
}
