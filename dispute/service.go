package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"disputeflow/consumer"
	"disputeflow/directory"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/notify"
	"disputeflow/strategy"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProfileSource resolves the consumer a letter is written for.
type ProfileSource interface {
	GetByID(ctx context.Context, id string) (consumer.Profile, error)
}

// Dependencies wires a Controller. Profiles may be nil, in which case
// letters carry no consumer details.
type Dependencies struct {
	Pool      TxBeginner
	Repo      Repository
	Items     item.Repository
	Letters   letter.Repository
	Engine    *letter.Engine
	Selector  *strategy.Selector
	Directory *directory.Directory
	Profiles  ProfileSource
	Sink      notify.Sink
}

// Controller drives executions through their lifecycle. Every transition
// commits the execution, item, attempt, follow-up, letter, event and outbox
// rows together or not at all.
type Controller struct {
	pool      TxBeginner
	repo      Repository
	items     item.Repository
	letters   letter.Repository
	engine    *letter.Engine
	selector  *strategy.Selector
	policy    *Policy
	directory *directory.Directory
	profiles  ProfileSource
	sink      notify.Sink
	schedule  Schedule
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewController(d Dependencies) *Controller {
	if d.Directory == nil {
		d.Directory = directory.Default()
	}
	if d.Selector == nil {
		d.Selector = strategy.NewSelector(strategy.Default())
	}
	if d.Engine == nil {
		d.Engine = letter.NewEngine(d.Directory)
	}
	if d.Sink == nil {
		d.Sink = notify.NewOutboxSink()
	}
	return &Controller{
		pool:      d.Pool,
		repo:      d.Repo,
		items:     d.Items,
		letters:   d.Letters,
		engine:    d.Engine,
		selector:  d.Selector,
		policy:    NewPolicy(d.Selector),
		directory: d.Directory,
		profiles:  d.Profiles,
		sink:      d.Sink,
		schedule:  DefaultSchedule(),
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithSchedule replaces the follow-up offsets. The schedule must validate.
func (c *Controller) WithSchedule(s Schedule) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c.schedule = s
	return c, nil
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) WithIDGenerator(gen func() string) *Controller {
	c.newID = gen
	return c
}

func (c *Controller) WithLogger(logger *zap.Logger) *Controller {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Controller) Schedule() Schedule { return c.schedule }

func (c *Controller) Get(ctx context.Context, id string) (Execution, error) {
	return c.repo.Get(ctx, id)
}

func (c *Controller) List(ctx context.Context, filters Filters) ([]Execution, error) {
	return c.repo.List(ctx, filters)
}

func (c *Controller) FollowUps(ctx context.Context, executionID string) ([]FollowUp, error) {
	return c.repo.ListFollowUps(ctx, executionID)
}

func (c *Controller) Letter(ctx context.Context, executionID string) (letter.Letter, error) {
	return c.letters.GetByExecution(ctx, executionID)
}

// Open creates a pending execution with its draft letter. The letter is
// rendered before the transaction so a slow enhancement never holds locks;
// eligibility and uniqueness are re-checked under the item lock.
func (c *Controller) Open(ctx context.Context, req OpenRequest) (Execution, letter.Letter, error) {
	now := c.now()

	it, err := c.items.Get(ctx, req.ItemID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if it.Status == item.StatusResolved {
		return Execution{}, letter.Letter{}, item.ErrResolved
	}
	st, err := c.selector.Catalog().Get(req.StrategyID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if _, err := c.selector.CheckAt(it, it.History, st.ID, now); err != nil {
		return Execution{}, letter.Letter{}, err
	}
	recipient, err := c.directory.Resolve(st.Recipient, it)
	if err != nil {
		return Execution{}, letter.Letter{}, fmt.Errorf("dispute: resolve recipient: %w", err)
	}
	profile, err := c.profile(ctx, it.OwnerID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	rendered, err := c.engine.Render(ctx, st.ID, letter.Input{
		Item:      it,
		Strategy:  st,
		Consumer:  profile,
		Recipient: recipient,
		Date:      now,
	})
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}

	exec := Execution{
		ID:            c.newID(),
		OwnerID:       it.OwnerID,
		ItemID:        it.ID,
		StrategyID:    st.ID,
		State:         StateDraft,
		RecipientKind: recipient.Kind,
		Recipient:     recipient.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := exec.moveTo(StatePending); err != nil {
		return Execution{}, letter.Letter{}, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Execution{}, letter.Letter{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := c.items.GetForUpdate(ctx, tx, it.ID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if locked.Status == item.StatusResolved {
		return Execution{}, letter.Letter{}, item.ErrResolved
	}
	if _, err := c.selector.CheckAt(locked, locked.History, st.ID, now); err != nil {
		return Execution{}, letter.Letter{}, err
	}
	inFlight, err := c.repo.ListInFlight(ctx, tx, it.ID, st.ID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if len(inFlight) > 0 {
		return Execution{}, letter.Letter{}, fmt.Errorf("%w: %s", ErrExecutionInFlight, inFlight[0].ID)
	}
	completed, err := c.repo.HasCompleted(ctx, tx, it.ID, st.ID)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if completed {
		return Execution{}, letter.Letter{}, ErrAlreadyCompleted
	}

	created, err := c.repo.Create(ctx, tx, exec)
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	stored, err := c.letters.Create(ctx, tx, letter.Letter{
		ID:               c.newID(),
		ExecutionID:      created.ID,
		RecipientType:    recipient.Kind,
		RecipientName:    recipient.Name,
		RecipientAddress: recipient.Address,
		Subject:          rendered.Subject,
		Body:             rendered.Body,
		Citations:        rendered.Citations,
		Enhanced:         rendered.Enhanced,
		Status:           letter.StatusDraft,
		CreatedAt:        now,
	})
	if err != nil {
		return Execution{}, letter.Letter{}, err
	}
	if err := c.repo.AppendEvent(ctx, tx, Event{
		ExecutionID: created.ID,
		Type:        EventOpened,
		From:        StateDraft,
		To:          StatePending,
		Payload:     map[string]any{"strategy_id": st.ID, "recipient": recipient.Name, "enhanced": rendered.Enhanced},
		At:          now,
	}); err != nil {
		return Execution{}, letter.Letter{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Execution{}, letter.Letter{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	c.logger.Info("dispute opened",
		zap.String("execution_id", created.ID),
		zap.String("item_id", it.ID),
		zap.String("strategy_id", st.ID),
	)
	return created, stored, nil
}

// Send marks the letter sent, moves the item to disputed and schedules the
// follow-ups.
func (c *Controller) Send(ctx context.Context, executionID string) (Execution, error) {
	now := c.now()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	exec, err := c.repo.GetForUpdate(ctx, tx, executionID)
	if err != nil {
		return Execution{}, err
	}
	from := exec.State
	if err := exec.moveTo(StateExecuting); err != nil {
		return Execution{}, err
	}
	it, err := c.items.GetForUpdate(ctx, tx, exec.ItemID)
	if err != nil {
		return Execution{}, err
	}
	if it.Status == item.StatusResolved {
		return Execution{}, item.ErrResolved
	}

	exec.SentAt = &now
	exec.UpdatedAt = now
	if err := c.repo.Update(ctx, tx, exec); err != nil {
		return Execution{}, err
	}
	if err := c.letters.MarkSent(ctx, tx, exec.ID, now); err != nil {
		return Execution{}, err
	}
	if err := c.items.UpdateStatus(ctx, tx, exec.ItemID, item.StatusDisputed); err != nil {
		return Execution{}, err
	}

	var class strategy.Class
	if st, err := c.selector.Catalog().Get(exec.StrategyID); err == nil {
		class = st.Class
	}
	followUps := c.schedule.FollowUps(exec.ID, class, now, c.newID)
	if err := c.repo.ScheduleFollowUps(ctx, tx, followUps); err != nil {
		return Execution{}, err
	}

	if err := c.repo.AppendEvent(ctx, tx, Event{
		ExecutionID: exec.ID,
		Type:        EventSent,
		From:        from,
		To:          exec.State,
		Payload:     map[string]any{"follow_ups": len(followUps)},
		At:          now,
	}); err != nil {
		return Execution{}, err
	}
	if err := c.sink.Enqueue(ctx, tx, notify.TopicDisputeSent, map[string]any{
		"execution_id": exec.ID,
		"item_id":      exec.ItemID,
		"strategy_id":  exec.StrategyID,
		"recipient":    exec.Recipient,
		"sent_at":      now.UTC(),
	}); err != nil {
		return Execution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Execution{}, fmt.Errorf("dispute: commit send: %w", err)
	}
	c.logger.Info("dispute sent", zap.String("execution_id", exec.ID), zap.String("item_id", exec.ItemID))
	return exec, nil
}

// RecordResponse completes an executing execution with the recipient's
// outcome. A replayed idempotency key returns the execution stored by the
// first request without touching anything.
func (c *Controller) RecordResponse(ctx context.Context, req ResponseRequest) (Execution, error) {
	if !req.Outcome.Valid() {
		return Execution{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, req.Outcome)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if req.IdempotencyKey != "" {
		err := c.repo.InsertIdempotencyKey(ctx, tx, req.IdempotencyKey, req.ExecutionID)
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			_ = tx.Rollback(ctx)
			return c.replay(ctx, req.IdempotencyKey, req.ExecutionID)
		}
		if err != nil {
			return Execution{}, err
		}
	}

	exec, err := c.repo.GetForUpdate(ctx, tx, req.ExecutionID)
	if err != nil {
		return Execution{}, err
	}
	exec, err = c.respond(ctx, tx, exec, req.Outcome, req.Details, c.now())
	if err != nil {
		return Execution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Execution{}, fmt.Errorf("dispute: commit response: %w", err)
	}
	c.logResponse(exec)
	return exec, nil
}

// replay answers a repeated key. A key first used for another execution is
// a conflict, never a replay.
func (c *Controller) replay(ctx context.Context, key, requestedID string) (Execution, error) {
	executionID, err := c.repo.LookupIdempotencyKey(ctx, key)
	if err != nil {
		return Execution{}, err
	}
	if executionID != requestedID {
		return Execution{}, fmt.Errorf("%w: %q belongs to another execution", ErrDuplicateIdempotencyKey, key)
	}
	c.logger.Info("dispute response replayed", zap.String("execution_id", executionID), zap.String("idempotency_key", key))
	return c.repo.Get(ctx, executionID)
}

func (c *Controller) respond(ctx context.Context, tx pgx.Tx, exec Execution, outcome item.Outcome, details string, at time.Time) (Execution, error) {
	if exec.State == StateCompleted {
		return Execution{}, ErrAlreadyCompleted
	}
	from := exec.State
	if err := exec.moveTo(StateCompleted); err != nil {
		return Execution{}, err
	}
	if outcome == item.OutcomeNoResponse && !c.schedule.windowElapsed(exec.SentAt, at) {
		return Execution{}, fmt.Errorf("%w: %d days not yet elapsed", ErrResponseWindowOpen, c.schedule.ResponseWindowDays)
	}

	it, err := c.items.GetForUpdate(ctx, tx, exec.ItemID)
	if err != nil {
		return Execution{}, err
	}
	attempt := item.Attempt{
		ItemID:      it.ID,
		ExecutionID: exec.ID,
		StrategyID:  exec.StrategyID,
		Outcome:     outcome,
		RecordedAt:  at,
	}
	if err := c.items.AppendAttempt(ctx, tx, attempt); err != nil {
		return Execution{}, err
	}
	it.History = append(it.History, attempt)

	success := outcome.Successful()
	if success {
		if err := c.items.UpdateStatus(ctx, tx, it.ID, item.StatusResolved); err != nil {
			return Execution{}, err
		}
		it.Status = item.StatusResolved
	} else if err := c.releaseItem(ctx, tx, &it, exec.ID); err != nil {
		return Execution{}, err
	}

	cancelled, err := c.repo.CancelFollowUps(ctx, tx, exec.ID, at)
	if err != nil {
		return Execution{}, err
	}

	exec.Success = &success
	exec.Outcome = outcome
	exec.OutcomeDetails = details
	exec.RespondedAt = &at
	exec.UpdatedAt = at

	var next *strategy.Recommendation
	if st, err := c.selector.Catalog().Get(exec.StrategyID); err == nil {
		next = c.policy.Next(it, st, outcome, at)
	}
	if next != nil {
		exec.NextStrategyID = &next.StrategyID
	}
	if err := c.repo.Update(ctx, tx, exec); err != nil {
		return Execution{}, err
	}

	payload := map[string]any{
		"outcome":              string(outcome),
		"success":              success,
		"cancelled_follow_ups": cancelled,
	}
	if next != nil {
		payload["next_strategy_id"] = next.StrategyID
	}
	if err := c.repo.AppendEvent(ctx, tx, Event{
		ExecutionID: exec.ID,
		Type:        EventResponseRecorded,
		From:        from,
		To:          exec.State,
		Payload:     payload,
		At:          at,
	}); err != nil {
		return Execution{}, err
	}
	if err := c.sink.Enqueue(ctx, tx, notify.TopicResponseReceived, map[string]any{
		"execution_id": exec.ID,
		"item_id":      exec.ItemID,
		"strategy_id":  exec.StrategyID,
		"outcome":      string(outcome),
		"success":      success,
	}); err != nil {
		return Execution{}, err
	}
	if next != nil {
		if err := c.sink.Enqueue(ctx, tx, notify.TopicNextActionRecommended, map[string]any{
			"execution_id":        exec.ID,
			"item_id":             exec.ItemID,
			"strategy_id":         next.StrategyID,
			"tier":                next.Tier,
			"success_probability": next.SuccessProbability,
			"reasoning":           next.Reasoning,
		}); err != nil {
			return Execution{}, err
		}
	}
	return exec, nil
}

// releaseItem returns a disputed item to active once nothing else is
// executing against it. Resolved items stay resolved.
func (c *Controller) releaseItem(ctx context.Context, tx pgx.Tx, it *item.CreditItem, executionID string) error {
	if it.Status == item.StatusResolved {
		return nil
	}
	others, err := c.repo.CountExecuting(ctx, tx, it.ID, executionID)
	if err != nil {
		return err
	}
	if others > 0 {
		return nil
	}
	if err := c.items.UpdateStatus(ctx, tx, it.ID, item.StatusActive); err != nil {
		return err
	}
	it.Status = item.StatusActive
	return nil
}

// Fail ends an executing execution. reason defaults to "unrecoverable_error".
func (c *Controller) Fail(ctx context.Context, executionID, reason string) (Execution, error) {
	if reason == "" {
		reason = "unrecoverable_error"
	}
	return c.terminate(ctx, executionID, reason, StateExecuting)
}

// Abandon withdraws a pending or executing execution.
func (c *Controller) Abandon(ctx context.Context, executionID string) (Execution, error) {
	return c.terminate(ctx, executionID, ReasonAbandoned, StatePending, StateExecuting)
}

func (c *Controller) terminate(ctx context.Context, executionID, reason string, allowed ...State) (Execution, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	exec, err := c.repo.GetForUpdate(ctx, tx, executionID)
	if err != nil {
		return Execution{}, err
	}
	ok := false
	for _, s := range allowed {
		ok = ok || exec.State == s
	}
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.State, StateFailed)
	}
	exec, err = c.fail(ctx, tx, exec, reason, c.now())
	if err != nil {
		return Execution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Execution{}, fmt.Errorf("dispute: commit failure: %w", err)
	}
	c.logger.Info("dispute failed", zap.String("execution_id", exec.ID), zap.String("reason", reason))
	return exec, nil
}

// fail moves exec to failed. Pending executions change nothing else, not
// even the event log; executing ones also cancel their follow-ups, release
// the item and record a failed event.
func (c *Controller) fail(ctx context.Context, tx pgx.Tx, exec Execution, reason string, at time.Time) (Execution, error) {
	from := exec.State
	if err := exec.moveTo(StateFailed); err != nil {
		return Execution{}, err
	}

	cancelled := 0
	if from == StateExecuting {
		n, err := c.repo.CancelFollowUps(ctx, tx, exec.ID, at)
		if err != nil {
			return Execution{}, err
		}
		cancelled = n
		it, err := c.items.GetForUpdate(ctx, tx, exec.ItemID)
		if err != nil {
			return Execution{}, err
		}
		if err := c.releaseItem(ctx, tx, &it, exec.ID); err != nil {
			return Execution{}, err
		}
	}

	exec.FailureReason = reason
	exec.UpdatedAt = at
	if err := c.repo.Update(ctx, tx, exec); err != nil {
		return Execution{}, err
	}
	// Abandoning a pending execution leaves no trace beyond its own row.
	if from == StatePending {
		return exec, nil
	}
	if err := c.repo.AppendEvent(ctx, tx, Event{
		ExecutionID: exec.ID,
		Type:        EventFailed,
		From:        from,
		To:          exec.State,
		Payload:     map[string]any{"reason": reason, "cancelled_follow_ups": cancelled},
		At:          at,
	}); err != nil {
		return Execution{}, err
	}
	return exec, nil
}

// ProcessDueFollowUps handles up to limit follow-ups due at asOf, one
// transaction each, so concurrent callers split the work.
func (c *Controller) ProcessDueFollowUps(ctx context.Context, asOf time.Time, limit int) (FollowUpReport, error) {
	var report FollowUpReport
	for report.Claimed < limit {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		delta, err := c.processNext(ctx, asOf)
		if err != nil {
			return report, err
		}
		if delta.Claimed == 0 {
			break
		}
		report.Claimed += delta.Claimed
		report.Done += delta.Done
		report.Cancelled += delta.Cancelled
		report.Responses += delta.Responses
		report.Failed += delta.Failed
	}
	return report, nil
}

func (c *Controller) processNext(ctx context.Context, asOf time.Time) (FollowUpReport, error) {
	var delta FollowUpReport

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return delta, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := c.repo.ClaimDueFollowUps(ctx, tx, asOf, 1)
	if err != nil || len(claimed) == 0 {
		return delta, err
	}
	f := claimed[0]
	delta.Claimed = 1

	exec, err := c.repo.GetForUpdate(ctx, tx, f.ExecutionID)
	if err != nil {
		return FollowUpReport{}, err
	}

	status := FollowUpDone
	var responded *Execution
	switch {
	case exec.State != StateExecuting:
		status = FollowUpCancelled
		delta.Cancelled++
	case f.Type == FollowUpEscalation:
		if _, err := c.fail(ctx, tx, exec, ReasonResponseCeilingExceeded, asOf); err != nil {
			return FollowUpReport{}, err
		}
		delta.Failed++
	case (f.Type == FollowUpLetter || f.Type == FollowUpMOVRequest) && c.schedule.windowElapsed(exec.SentAt, asOf):
		details := fmt.Sprintf("no response within %d days", c.schedule.ResponseWindowDays)
		updated, err := c.respond(ctx, tx, exec, item.OutcomeNoResponse, details, asOf)
		if err != nil {
			return FollowUpReport{}, err
		}
		responded = &updated
		delta.Responses++
	default:
		if err := c.followUpDue(ctx, tx, exec, f, asOf); err != nil {
			return FollowUpReport{}, err
		}
		delta.Done++
	}

	if err := c.repo.CompleteFollowUp(ctx, tx, f.ID, status, asOf); err != nil {
		return FollowUpReport{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return FollowUpReport{}, fmt.Errorf("dispute: commit follow-up: %w", err)
	}
	c.logger.Info("follow-up processed",
		zap.String("follow_up_id", f.ID),
		zap.String("execution_id", f.ExecutionID),
		zap.String("type", string(f.Type)),
		zap.String("status", string(status)),
	)
	if responded != nil {
		c.logResponse(*responded)
	}
	return delta, nil
}

func (c *Controller) followUpDue(ctx context.Context, tx pgx.Tx, exec Execution, f FollowUp, at time.Time) error {
	if err := c.repo.AppendEvent(ctx, tx, Event{
		ExecutionID: exec.ID,
		Type:        EventFollowUpDue,
		Payload:     map[string]any{"follow_up_id": f.ID, "type": string(f.Type)},
		At:          at,
	}); err != nil {
		return err
	}
	return c.sink.Enqueue(ctx, tx, notify.TopicFollowUpDue, map[string]any{
		"execution_id":  exec.ID,
		"item_id":       exec.ItemID,
		"follow_up_id":  f.ID,
		"type":          string(f.Type),
		"description":   f.Description,
		"scheduled_for": f.ScheduledFor.UTC(),
	})
}

func (c *Controller) profile(ctx context.Context, ownerID string) (consumer.Profile, error) {
	if c.profiles == nil {
		return consumer.Profile{ID: ownerID}, nil
	}
	p, err := c.profiles.GetByID(ctx, ownerID)
	if err != nil {
		return consumer.Profile{}, fmt.Errorf("dispute: load consumer profile: %w", err)
	}
	return p, nil
}

func (c *Controller) logResponse(exec Execution) {
	fields := []zap.Field{
		zap.String("execution_id", exec.ID),
		zap.String("item_id", exec.ItemID),
		zap.String("outcome", string(exec.Outcome)),
	}
	if exec.NextStrategyID != nil {
		fields = append(fields, zap.String("next_strategy_id", *exec.NextStrategyID))
	}
	c.logger.Info("dispute response recorded", fields...)
}

func (e *Execution) moveTo(to State) error {
	if !CanTransition(e.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, to)
	}
	e.State = to
	return nil
}
