// Package actors drives the dispute lifecycle from many goroutines at once.
// Every actor treats domain rejections as expected contention and counts
// anything else as transient, leaving correctness to the oracles.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"disputeflow/dispute"
	"disputeflow/followup"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/notify"
	"disputeflow/strategy"
)

// Lifecycle is the slice of the dispute controller the actors exercise.
type Lifecycle interface {
	Open(ctx context.Context, req dispute.OpenRequest) (dispute.Execution, letter.Letter, error)
	Send(ctx context.Context, executionID string) (dispute.Execution, error)
	RecordResponse(ctx context.Context, req dispute.ResponseRequest) (dispute.Execution, error)
	Abandon(ctx context.Context, executionID string) (dispute.Execution, error)
	List(ctx context.Context, filters dispute.Filters) ([]dispute.Execution, error)
}

// Target is one (item, strategy) pair actors race on.
type Target struct {
	ItemID     string
	StrategyID string
}

// Stats counts what the actors achieved. Fields are updated concurrently.
type Stats struct {
	Opened    atomic.Int64
	Sent      atomic.Int64
	Responded atomic.Int64
	Abandoned atomic.Int64
	FollowUps atomic.Int64
	Relayed   atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

// Fields renders the counters for a log line.
func (s *Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("opened", s.Opened.Load()),
		zap.Int64("sent", s.Sent.Load()),
		zap.Int64("responded", s.Responded.Load()),
		zap.Int64("abandoned", s.Abandoned.Load()),
		zap.Int64("follow_ups", s.FollowUps.Load()),
		zap.Int64("relayed", s.Relayed.Load()),
		zap.Int64("rejected", s.Rejected.Load()),
		zap.Int64("transient", s.Transient.Load()),
	}
}

var expected = []error{
	dispute.ErrExecutionInFlight,
	dispute.ErrAlreadyCompleted,
	dispute.ErrInvalidTransition,
	dispute.ErrResponseWindowOpen,
	dispute.ErrNotFound,
	item.ErrResolved,
	strategy.ErrIneligible,
}

func (s *Stats) record(err error, ok *atomic.Int64) {
	if err == nil {
		ok.Add(1)
		return
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			s.Rejected.Add(1)
			return
		}
	}
	s.Transient.Add(1)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// Opener keeps opening executions on random targets. Several openers on the
// same targets exercise the in-flight uniqueness guard.
func Opener(ctx context.Context, lc Lifecycle, targets []Target, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		t := targets[rand.Intn(len(targets))]
		_, _, err := lc.Open(ctx, dispute.OpenRequest{ItemID: t.ItemID, StrategyID: t.StrategyID})
		stats.record(err, &stats.Opened)
		jitter(10, 20)
	}
	return ctx.Err()
}

// Sender mails a random pending execution of owner.
func Sender(ctx context.Context, lc Lifecycle, ownerID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if exec, ok := pick(ctx, lc, ownerID, dispute.StatePending, stats); ok {
			_, err := lc.Send(ctx, exec.ID)
			stats.record(err, &stats.Sent)
		}
		jitter(20, 40)
	}
	return ctx.Err()
}

var outcomes = []item.Outcome{
	item.OutcomeVerified, item.OutcomeVerified, item.OutcomeVerified,
	item.OutcomeRejected, item.OutcomeRejected,
	item.OutcomePartialSuccess,
	item.OutcomeModified,
	item.OutcomeDeleted,
}

// Responder records outcomes for executing executions. The idempotency key
// is derived from the execution, so responders that pick the same execution
// collide on it and one of them replays.
func Responder(ctx context.Context, lc Lifecycle, ownerID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if exec, ok := pick(ctx, lc, ownerID, dispute.StateExecuting, stats); ok {
			_, err := lc.RecordResponse(ctx, dispute.ResponseRequest{
				ExecutionID:    exec.ID,
				Outcome:        outcomes[rand.Intn(len(outcomes))],
				Details:        "stress",
				IdempotencyKey: "response-" + exec.ID,
			})
			stats.record(err, &stats.Responded)
		}
		jitter(30, 50)
	}
	return ctx.Err()
}

// Abandoner occasionally gives up on a pending or executing execution.
func Abandoner(ctx context.Context, lc Lifecycle, ownerID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		state := dispute.StatePending
		if rand.Intn(2) == 0 {
			state = dispute.StateExecuting
		}
		if exec, ok := pick(ctx, lc, ownerID, state, stats); ok {
			_, err := lc.Abandon(ctx, exec.ID)
			stats.record(err, &stats.Abandoned)
		}
		jitter(150, 150)
	}
	return ctx.Err()
}

// FollowUps runs scheduled follow-up passes. The runner's clock decides how
// far into the future each pass looks.
func FollowUps(ctx context.Context, runner *followup.Runner, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		report, err := runner.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			stats.Transient.Add(1)
		}
		stats.FollowUps.Add(int64(report.Claimed))
		jitter(100, 100)
	}
	return ctx.Err()
}

// OutboxWorker relays outbox messages. Several workers share the table
// through SKIP LOCKED claims.
func OutboxWorker(ctx context.Context, relay *notify.Relay, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		report, err := relay.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			stats.Transient.Add(1)
		}
		stats.Relayed.Add(int64(report.Delivered))
		jitter(80, 40)
	}
	return ctx.Err()
}

func pick(ctx context.Context, lc Lifecycle, ownerID string, state dispute.State, stats *Stats) (dispute.Execution, bool) {
	execs, err := lc.List(ctx, dispute.Filters{OwnerID: ownerID, State: state})
	if err != nil {
		stats.Transient.Add(1)
		return dispute.Execution{}, false
	}
	if len(execs) == 0 {
		return dispute.Execution{}, false
	}
	return execs[rand.Intn(len(execs))], true
}
