// Package followup drives due follow-up actions. An external scheduler calls
// RunOnce; long-lived deployments use Run.
package followup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
)

const (
	DefaultWorkers      = 2
	DefaultBatchSize    = 25
	DefaultPollInterval = time.Minute
)

// Processor handles due follow-ups; *dispute.Controller implements it.
type Processor interface {
	ProcessDueFollowUps(ctx context.Context, asOf time.Time, limit int) (dispute.FollowUpReport, error)
}

type Runner struct {
	processor    Processor
	workers      int
	batchSize    int
	pollInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewRunner(processor Processor) *Runner {
	return &Runner{
		processor:    processor,
		workers:      DefaultWorkers,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
}

func (r *Runner) WithWorkers(n int) *Runner {
	if n > 0 {
		r.workers = n
	}
	return r
}

func (r *Runner) WithBatchSize(n int) *Runner {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Runner) WithPollInterval(d time.Duration) *Runner {
	if d > 0 {
		r.pollInterval = d
	}
	return r
}

func (r *Runner) WithLogger(logger *zap.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunOnce drains everything due now. Workers claim independently, so each
// follow-up is handled by exactly one of them.
func (r *Runner) RunOnce(ctx context.Context) (dispute.FollowUpReport, error) {
	asOf := r.now()

	var (
		mu    sync.Mutex
		total dispute.FollowUpReport
	)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				report, err := r.processor.ProcessDueFollowUps(ctx, asOf, r.batchSize)
				mu.Lock()
				total = add(total, report)
				mu.Unlock()
				if err != nil {
					r.logger.Warn("follow-up worker stopped", zap.Int("worker", worker), zap.Error(err))
					return err
				}
				if report.Claimed < r.batchSize {
					return nil
				}
			}
		})
	}
	err := g.Wait()
	return total, err
}

// Run calls RunOnce every poll interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		report, err := r.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			r.logger.Error("follow-up pass failed", zap.Error(err))
		case report.Claimed > 0:
			r.logger.Info("follow-up pass",
				zap.Int("claimed", report.Claimed),
				zap.Int("done", report.Done),
				zap.Int("cancelled", report.Cancelled),
				zap.Int("responses", report.Responses),
				zap.Int("failed", report.Failed),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func add(a, b dispute.FollowUpReport) dispute.FollowUpReport {
	return dispute.FollowUpReport{
		Claimed:   a.Claimed + b.Claimed,
		Done:      a.Done + b.Done,
		Cancelled: a.Cancelled + b.Cancelled,
		Responses: a.Responses + b.Responses,
		Failed:    a.Failed + b.Failed,
	}
}
