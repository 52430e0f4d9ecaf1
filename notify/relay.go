package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize   = 10
	DefaultMaxAttempts = 5
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Deliverer pushes one message to the outside world.
type Deliverer interface {
	Deliver(ctx context.Context, m Message) error
}

type DelivererFunc func(ctx context.Context, m Message) error

func (f DelivererFunc) Deliver(ctx context.Context, m Message) error { return f(ctx, m) }

// LogDeliverer writes messages to a structured log. It is the default
// channel when no external notifier is wired.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(_ context.Context, m Message) error {
	d.logger.Info("notification",
		zap.String("id", m.ID),
		zap.String("topic", m.Topic),
		zap.ByteString("payload", m.Payload),
		zap.Int("attempt", m.Attempts+1),
	)
	return nil
}

// RelayReport counts what one relay pass did.
type RelayReport struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

// Relay drains pending outbox messages. Failed deliveries are retried on
// later passes until maxAttempts, then parked as dead.
type Relay struct {
	pool        TxBeginner
	store       Store
	deliverer   Deliverer
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

func NewRelay(pool TxBeginner, store Store, deliverer Deliverer) *Relay {
	return &Relay{
		pool:        pool,
		store:       store,
		deliverer:   deliverer,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
}

func (r *Relay) WithLogger(logger *zap.Logger) *Relay {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Relay) WithLimits(batchSize, maxAttempts int) *Relay {
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// RunOnce relays one batch inside a single transaction.
func (r *Relay) RunOnce(ctx context.Context) (RelayReport, error) {
	var report RelayReport

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.batchSize)
	if err != nil {
		return report, err
	}
	report.Claimed = len(msgs)

	for _, m := range msgs {
		at := r.now()
		if derr := r.deliverer.Deliver(ctx, m); derr != nil {
			attempts := m.Attempts + 1
			status := StatusPending
			if attempts >= r.maxAttempts {
				status = StatusDead
				report.Dead++
				r.logger.Error("notification dead-lettered",
					zap.String("id", m.ID), zap.String("topic", m.Topic), zap.Int("attempts", attempts), zap.Error(derr))
			} else {
				report.Retried++
				r.logger.Warn("notification delivery failed",
					zap.String("id", m.ID), zap.String("topic", m.Topic), zap.Int("attempts", attempts), zap.Error(derr))
			}
			if err := r.store.MarkAttempt(ctx, tx, m.ID, attempts, status, at); err != nil {
				return RelayReport{}, err
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID, at); err != nil {
			return RelayReport{}, err
		}
		report.Delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return RelayReport{}, fmt.Errorf("notify: commit relay: %w", err)
	}
	return report, nil
}

// Run relays until ctx is cancelled, draining full batches back to back and
// sleeping interval otherwise.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("outbox relay pass failed", zap.Error(err))
		}
		if err == nil && report.Claimed == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
