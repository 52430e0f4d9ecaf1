package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"disputeflow/dispute"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// queue hands out a fixed number of due follow-ups across callers.
type queue struct {
	mu      sync.Mutex
	pending int
	calls   int
	asOfs   []time.Time
	err     error
}

func (q *queue) ProcessDueFollowUps(ctx context.Context, asOf time.Time, limit int) (dispute.FollowUpReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.asOfs = append(q.asOfs, asOf)
	if q.err != nil {
		return dispute.FollowUpReport{}, q.err
	}
	n := limit
	if q.pending < n {
		n = q.pending
	}
	q.pending -= n
	return dispute.FollowUpReport{Claimed: n, Done: n}, nil
}

func TestRunOnce_DrainsAcrossWorkers(t *testing.T) {
	now := time.Date(2025, 4, 15, 6, 0, 0, 0, time.UTC)
	q := &queue{pending: 23}
	r := NewRunner(q).WithWorkers(3).WithBatchSize(5).WithClock(func() time.Time { return now })

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dispute.FollowUpReport{Claimed: 23, Done: 23}, report)
	assert.Zero(t, q.pending)
	for _, asOf := range q.asOfs {
		assert.Equal(t, now, asOf, "every worker evaluates the same instant")
	}
}

func TestRunOnce_PropagatesError(t *testing.T) {
	q := &queue{pending: 10, err: errors.New("db down")}
	r := NewRunner(q).WithLogger(zaptest.NewLogger(t))

	_, err := r.RunOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := &queue{pending: 3}
	r := NewRunner(q).WithPollInterval(5 * time.Millisecond).WithLogger(zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.calls >= 4
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Zero(t, q.pending)
}
