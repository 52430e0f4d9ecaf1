package dispute

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"disputeflow/consumer"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/notify"
	"disputeflow/priority"
	"disputeflow/strategy"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func scenarioItem() item.CreditItem {
	opened := t0.AddDate(-3, 0, 0)
	reported := t0.AddDate(-1, 0, 0)
	return item.CreditItem{
		ID:               "item-1",
		OwnerID:          "owner-1",
		Type:             item.TypeCollection,
		Bureau:           "experian",
		CreditorName:     "ACME Recovery",
		FurnisherAddress: "PO Box 100\nDallas, TX 75201",
		AccountNumber:    "9876-5432-1098",
		Balance:          2400,
		OpenedAt:         &opened,
		ReportedAt:       &reported,
		PaymentStatus:    "Collection",
		Jurisdiction:     "TX",
		Status:           item.StatusActive,
	}
}

type profiles map[string]consumer.Profile

func (p profiles) GetByID(ctx context.Context, id string) (consumer.Profile, error) {
	if prof, ok := p[id]; ok {
		return prof, nil
	}
	return consumer.Profile{}, consumer.ErrNotFound
}

type harness struct {
	db    *memDB
	ctrl  *Controller
	clock time.Time
}

func newHarness(t *testing.T, items ...item.CreditItem) *harness {
	t.Helper()
	if len(items) == 0 {
		items = []item.CreditItem{scenarioItem()}
	}
	h := &harness{db: newMemDB(items...), clock: t0}
	h.ctrl = NewController(Dependencies{
		Pool:     h.db,
		Repo:     memRepo{h.db},
		Items:    memItems{h.db},
		Letters:  memLetters{h.db},
		Selector: strategy.NewSelector(strategy.Default()),
		Profiles: profiles{"owner-1": {ID: "owner-1", FullName: "Jane Q. Consumer", Address: "12 Elm St", City: "Austin", State: "TX", PostalCode: "78701", SSN: "123-45-6789"}},
		Sink:     memSink{h.db},
	}).
		WithClock(func() time.Time { return h.clock }).
		WithIDGenerator(sequentialIDs()).
		WithLogger(zaptest.NewLogger(t))
	return h
}

func (h *harness) advance(days int) {
	h.clock = h.clock.AddDate(0, 0, days)
}

func (h *harness) openAndSend(t *testing.T, strategyID string) Execution {
	t.Helper()
	exec, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: strategyID})
	if err != nil {
		t.Fatalf("open %s: %v", strategyID, err)
	}
	sent, err := h.ctrl.Send(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("send %s: %v", strategyID, err)
	}
	return sent
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]State]bool{
		{StateDraft, StatePending}:       true,
		{StatePending, StateExecuting}:   true,
		{StatePending, StateFailed}:      true,
		{StateExecuting, StateCompleted}: true,
		{StateExecuting, StateFailed}:    true,
	}
	states := []State{StateDraft, StatePending, StateExecuting, StateCompleted, StateFailed}
	for _, from := range states {
		for _, to := range states {
			if got := CanTransition(from, to); got != legal[[2]State{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestOpen_CreatesPendingExecutionWithDraftLetter(t *testing.T) {
	h := newHarness(t)

	exec, l, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "debt_validation"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if exec.State != StatePending {
		t.Fatalf("expected pending, got %s", exec.State)
	}
	if exec.Recipient != "ACME Recovery" {
		t.Errorf("expected furnisher recipient, got %q", exec.Recipient)
	}
	if l.Status != letter.StatusDraft || l.ExecutionID != exec.ID {
		t.Errorf("unexpected letter %+v", l)
	}
	if letter.HasPlaceholder(l.Body) {
		t.Errorf("letter body has unresolved placeholders")
	}

	st := h.db.snapshot()
	if st.items["item-1"].Status != item.StatusActive {
		t.Errorf("opening must not touch the item, got %s", st.items["item-1"].Status)
	}
	if got := st.eventTypes(exec.ID); !reflect.DeepEqual(got, []EventType{EventOpened}) {
		t.Errorf("events = %v", got)
	}
	if len(st.outbox) != 0 {
		t.Errorf("expected no notifications on open, got %v", st.topics())
	}
}

func TestOpen_Rejections(t *testing.T) {
	t.Run("resolved item", func(t *testing.T) {
		it := scenarioItem()
		it.Status = item.StatusResolved
		h := newHarness(t, it)
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
		if !errors.Is(err, item.ErrResolved) {
			t.Fatalf("expected ErrResolved, got %v", err)
		}
	})

	t.Run("ineligible strategy", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "method_of_verification"})
		if !errors.Is(err, strategy.ErrIneligible) {
			t.Fatalf("expected ErrIneligible, got %v", err)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "carrier_pigeon"})
		if !errors.Is(err, strategy.ErrUnknownStrategy) {
			t.Fatalf("expected ErrUnknownStrategy, got %v", err)
		}
	})

	t.Run("second in flight", func(t *testing.T) {
		h := newHarness(t)
		if _, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"}); err != nil {
			t.Fatalf("first open: %v", err)
		}
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
		if !errors.Is(err, ErrExecutionInFlight) {
			t.Fatalf("expected ErrExecutionInFlight, got %v", err)
		}
		if n := len(h.db.snapshot().executions); n != 1 {
			t.Fatalf("expected one execution, got %d", n)
		}
	})

	t.Run("already completed", func(t *testing.T) {
		h := newHarness(t)
		exec := h.openAndSend(t, "factual_dispute")
		if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeVerified}); err != nil {
			t.Fatalf("respond: %v", err)
		}
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
		if !errors.Is(err, ErrAlreadyCompleted) {
			t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
		}
	})

	t.Run("missing profile", func(t *testing.T) {
		it := scenarioItem()
		it.OwnerID = "stranger"
		h := newHarness(t, it)
		_, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
		if !errors.Is(err, consumer.ErrNotFound) {
			t.Fatalf("expected consumer.ErrNotFound, got %v", err)
		}
	})
}

func TestSend_SchedulesFollowUpsAndDisputesItem(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")

	if exec.State != StateExecuting || exec.SentAt == nil || !exec.SentAt.Equal(t0) {
		t.Fatalf("unexpected execution after send: %+v", exec)
	}
	st := h.db.snapshot()
	if st.items["item-1"].Status != item.StatusDisputed {
		t.Errorf("expected disputed item, got %s", st.items["item-1"].Status)
	}
	if st.letters[exec.ID].Status != letter.StatusSent {
		t.Errorf("expected sent letter")
	}

	fus, _ := h.ctrl.FollowUps(context.Background(), exec.ID)
	want := []struct {
		typ  FollowUpType
		days int
	}{{FollowUpStatusCheck, 15}, {FollowUpLetter, 35}, {FollowUpEscalation, 45}}
	if len(fus) != len(want) {
		t.Fatalf("expected %d follow-ups, got %d", len(want), len(fus))
	}
	for i, w := range want {
		if fus[i].Type != w.typ || !fus[i].ScheduledFor.Equal(t0.AddDate(0, 0, w.days)) || fus[i].Status != FollowUpScheduled {
			t.Errorf("follow-up %d = %+v, want %s at +%dd", i, fus[i], w.typ, w.days)
		}
	}
	if got := st.topics(); !reflect.DeepEqual(got, []string{notify.TopicDisputeSent}) {
		t.Errorf("outbox = %v", got)
	}

	if _, err := h.ctrl.Send(context.Background(), exec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on resend, got %v", err)
	}
}

func TestSend_VerificationChallengeGetsMOVRequest(t *testing.T) {
	h := newHarness(t)
	first := h.openAndSend(t, "factual_dispute")
	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: first.ID, Outcome: item.OutcomeVerified}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	mov := h.openAndSend(t, "method_of_verification")

	fus, _ := h.ctrl.FollowUps(context.Background(), mov.ID)
	if len(fus) != 3 || fus[1].Type != FollowUpMOVRequest {
		t.Fatalf("expected mov_request as second follow-up, got %+v", fus)
	}
}

func TestRecordResponse_SuccessResolvesItem(t *testing.T) {
	for _, outcome := range []item.Outcome{item.OutcomeDeleted, item.OutcomeModified} {
		t.Run(string(outcome), func(t *testing.T) {
			h := newHarness(t)
			exec := h.openAndSend(t, "debt_validation")
			h.advance(20)

			got, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: outcome, Details: "removed"})
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			if got.State != StateCompleted || got.Success == nil || !*got.Success {
				t.Fatalf("unexpected execution %+v", got)
			}
			if got.NextStrategyID != nil {
				t.Errorf("no next strategy expected after success, got %s", *got.NextStrategyID)
			}

			st := h.db.snapshot()
			it := st.items["item-1"]
			if it.Status != item.StatusResolved {
				t.Errorf("expected resolved item, got %s", it.Status)
			}
			if len(it.History) != 1 || it.History[0].Outcome != outcome || it.History[0].ExecutionID != exec.ID {
				t.Errorf("unexpected history %+v", it.History)
			}
			for _, f := range st.followUps {
				if f.Status != FollowUpCancelled {
					t.Errorf("follow-up %s not cancelled: %s", f.ID, f.Status)
				}
			}
			if got := st.topics(); !reflect.DeepEqual(got, []string{notify.TopicDisputeSent, notify.TopicResponseReceived}) {
				t.Errorf("outbox = %v", got)
			}

			if ranked := priority.NewScorer(0).Rank([]item.CreditItem{it}, priority.AnalysisContext{AsOf: h.clock}, 0); len(ranked) != 0 {
				t.Errorf("resolved item still ranked: %+v", ranked)
			}

			_, _, err = h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
			if !errors.Is(err, item.ErrResolved) {
				t.Errorf("resolved item must not be reopened, got %v", err)
			}
		})
	}
}

func TestRecordResponse_EscalationTable(t *testing.T) {
	cases := []struct {
		outcome item.Outcome
		wait    int
		next    string
	}{
		{item.OutcomeVerified, 20, "method_of_verification"},
		{item.OutcomeNoResponse, 30, "estoppel_by_silence"},
		{item.OutcomePartialSuccess, 20, "reinvestigation_followup"},
		{item.OutcomeRejected, 20, "furnisher_direct_dispute"},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			h := newHarness(t)
			exec := h.openAndSend(t, "factual_dispute")
			h.advance(tc.wait)

			got, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: tc.outcome})
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			if got.NextStrategyID == nil || *got.NextStrategyID != tc.next {
				t.Fatalf("next strategy = %v, want %s", got.NextStrategyID, tc.next)
			}
			if *got.Success {
				t.Errorf("expected unsuccessful execution")
			}

			st := h.db.snapshot()
			if st.items["item-1"].Status != item.StatusActive {
				t.Errorf("expected item back to active, got %s", st.items["item-1"].Status)
			}
			topics := st.topics()
			if topics[len(topics)-1] != notify.TopicNextActionRecommended {
				t.Errorf("expected next_action_recommended last, got %v", topics)
			}

			// The recommendation must be openable right away.
			if _, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: tc.next}); err != nil {
				t.Errorf("open recommended %s: %v", tc.next, err)
			}
		})
	}
}

func TestRecordResponse_ItemStaysDisputedWhileOtherExecutionRuns(t *testing.T) {
	h := newHarness(t)
	first := h.openAndSend(t, "factual_dispute")
	h.openAndSend(t, "debt_validation")

	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: first.ID, Outcome: item.OutcomeVerified}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got := h.db.snapshot().items["item-1"].Status; got != item.StatusDisputed {
		t.Fatalf("expected item to stay disputed, got %s", got)
	}
}

func TestRecordResponse_NoResponseNeedsElapsedWindow(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")
	h.advance(29)

	_, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeNoResponse})
	if !errors.Is(err, ErrResponseWindowOpen) {
		t.Fatalf("expected ErrResponseWindowOpen, got %v", err)
	}
	st := h.db.snapshot()
	if st.executions[exec.ID].State != StateExecuting || len(st.items["item-1"].History) != 0 {
		t.Fatalf("rejected response must not change state")
	}
}

func TestRecordResponse_InvalidInputs(t *testing.T) {
	h := newHarness(t)
	exec, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: "lost_in_mail"}); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeDeleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending execution, got %v", err)
	}
	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: "missing", Outcome: item.OutcomeDeleted}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordResponse_IdempotentReplay(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")
	h.advance(10)

	first, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeVerified, IdempotencyKey: "bureau-evt-1"})
	if err != nil {
		t.Fatalf("first response: %v", err)
	}
	before := h.db.snapshot()

	replayed, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeDeleted, IdempotencyKey: "bureau-evt-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(first, replayed) {
		t.Fatalf("replay returned %+v, want %+v", replayed, first)
	}
	after := h.db.snapshot()
	if len(after.items["item-1"].History) != 1 || len(after.outbox) != len(before.outbox) || len(after.events) != len(before.events) {
		t.Fatalf("replay must not apply side effects")
	}

	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeDeleted}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted without key, got %v", err)
	}
}

func TestRecordResponse_KeyFromAnotherExecutionConflicts(t *testing.T) {
	h := newHarness(t)
	first := h.openAndSend(t, "factual_dispute")
	second := h.openAndSend(t, "debt_validation")
	ctx := context.Background()

	if _, err := h.ctrl.RecordResponse(ctx, ResponseRequest{ExecutionID: first.ID, Outcome: item.OutcomeVerified, IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("first response: %v", err)
	}
	got, err := h.ctrl.RecordResponse(ctx, ResponseRequest{ExecutionID: second.ID, Outcome: item.OutcomeRejected, IdempotencyKey: "k1"})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %+v %v", got, err)
	}
	if got.ID != "" {
		t.Fatalf("conflict must not return another execution, got %s", got.ID)
	}
	if state := h.db.snapshot().executions[second.ID].State; state != StateExecuting {
		t.Fatalf("second execution changed to %s", state)
	}

	if _, err := h.ctrl.RecordResponse(ctx, ResponseRequest{ExecutionID: second.ID, Outcome: item.OutcomeRejected, IdempotencyKey: "k2"}); err != nil {
		t.Fatalf("fresh key: %v", err)
	}
}

// Following every recommendation must never dead-end on a strategy the
// controller refuses to open.
func TestRecordResponse_FollowOnChainAlwaysOpens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec := h.openAndSend(t, "factual_dispute")

	var chain []string
	for i := 0; i < 5; i++ {
		h.advance(31)
		done, err := h.ctrl.RecordResponse(ctx, ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeNoResponse})
		if err != nil {
			t.Fatalf("respond to %s: %v", exec.StrategyID, err)
		}
		if done.NextStrategyID == nil {
			break
		}
		next := *done.NextStrategyID
		for _, seen := range chain {
			if seen == next {
				t.Fatalf("%s recommended twice: %v", next, chain)
			}
		}
		chain = append(chain, next)
		exec = h.openAndSend(t, next)
	}
	if len(chain) != 1 || chain[0] != "estoppel_by_silence" {
		t.Fatalf("chain = %v, want [estoppel_by_silence]", chain)
	}
}

func TestRecordResponse_AllOrNothing(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")
	before := h.db.snapshot()
	h.db.failSink = errors.New("outbox unavailable")

	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeDeleted, IdempotencyKey: "k1"}); err == nil {
		t.Fatalf("expected error")
	}
	after := h.db.snapshot()
	if !reflect.DeepEqual(before.executions, after.executions) ||
		!reflect.DeepEqual(before.items, after.items) ||
		!reflect.DeepEqual(before.followUps, after.followUps) ||
		len(after.keys) != 0 {
		t.Fatalf("failed transition left partial writes")
	}
}

func TestAbandon(t *testing.T) {
	t.Run("pending has no side effects", func(t *testing.T) {
		h := newHarness(t)
		exec, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		before := h.db.snapshot()
		got, err := h.ctrl.Abandon(context.Background(), exec.ID)
		if err != nil {
			t.Fatalf("abandon: %v", err)
		}
		if got.State != StateFailed || got.FailureReason != ReasonAbandoned {
			t.Fatalf("unexpected execution %+v", got)
		}
		st := h.db.snapshot()
		if st.items["item-1"].Status != item.StatusActive || st.letters[exec.ID].Status != letter.StatusDraft || len(st.outbox) != 0 {
			t.Fatalf("abandoning a pending execution must not touch item, letter or outbox")
		}
		if len(st.events) != len(before.events) {
			t.Fatalf("abandoning a pending execution must not log an event")
		}
		// A fresh attempt with the same strategy is allowed again.
		if _, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"}); err != nil {
			t.Fatalf("reopen after abandon: %v", err)
		}
	})

	t.Run("executing cancels follow-ups", func(t *testing.T) {
		h := newHarness(t)
		exec := h.openAndSend(t, "factual_dispute")
		if _, err := h.ctrl.Abandon(context.Background(), exec.ID); err != nil {
			t.Fatalf("abandon: %v", err)
		}
		st := h.db.snapshot()
		if st.items["item-1"].Status != item.StatusActive {
			t.Errorf("expected active item, got %s", st.items["item-1"].Status)
		}
		for _, f := range st.followUps {
			if f.Status != FollowUpCancelled {
				t.Errorf("follow-up %s = %s", f.ID, f.Status)
			}
		}
		if _, err := h.ctrl.Abandon(context.Background(), exec.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition on second abandon, got %v", err)
		}
	})
}

func TestFail_OnlyFromExecuting(t *testing.T) {
	h := newHarness(t)
	exec, _, err := h.ctrl.Open(context.Background(), OpenRequest{ItemID: "item-1", StrategyID: "factual_dispute"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.ctrl.Fail(context.Background(), exec.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.ctrl.Send(context.Background(), exec.ID); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := h.ctrl.Fail(context.Background(), exec.ID, "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if got.FailureReason != "unrecoverable_error" {
		t.Errorf("unexpected reason %q", got.FailureReason)
	}
}

func TestProcessDueFollowUps_DefaultSchedule(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")
	ctx := context.Background()

	report, err := h.ctrl.ProcessDueFollowUps(ctx, t0.AddDate(0, 0, 14), 10)
	if err != nil || report.Claimed != 0 {
		t.Fatalf("nothing due at day 14: %+v %v", report, err)
	}

	report, err = h.ctrl.ProcessDueFollowUps(ctx, t0.AddDate(0, 0, 15), 10)
	if err != nil {
		t.Fatalf("day 15: %v", err)
	}
	if report != (FollowUpReport{Claimed: 1, Done: 1}) {
		t.Fatalf("day 15 report = %+v", report)
	}
	if topics := h.db.snapshot().topics(); topics[len(topics)-1] != notify.TopicFollowUpDue {
		t.Errorf("expected follow_up_due, got %v", topics)
	}

	report, err = h.ctrl.ProcessDueFollowUps(ctx, t0.AddDate(0, 0, 35), 10)
	if err != nil {
		t.Fatalf("day 35: %v", err)
	}
	if report != (FollowUpReport{Claimed: 1, Responses: 1}) {
		t.Fatalf("day 35 report = %+v", report)
	}
	got, _ := h.ctrl.Get(ctx, exec.ID)
	if got.State != StateCompleted || got.Outcome != item.OutcomeNoResponse {
		t.Fatalf("expected no_response completion, got %+v", got)
	}
	if got.NextStrategyID == nil || *got.NextStrategyID != "estoppel_by_silence" {
		t.Fatalf("expected estoppel_by_silence next, got %v", got.NextStrategyID)
	}

	report, err = h.ctrl.ProcessDueFollowUps(ctx, t0.AddDate(0, 0, 60), 10)
	if err != nil || report.Claimed != 0 {
		t.Fatalf("escalation must be cancelled after the response: %+v %v", report, err)
	}
}

func TestProcessDueFollowUps_EscalationFailsExecution(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.WithSchedule(Schedule{StatusCheckDays: 5, FollowUpLetterDays: 10, EscalationDays: 45, ResponseWindowDays: 30}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	exec := h.openAndSend(t, "factual_dispute")

	// The letter reminder fires before the response window closes, so it
	// only notifies.
	report, err := h.ctrl.ProcessDueFollowUps(context.Background(), t0.AddDate(0, 0, 10), 10)
	if err != nil {
		t.Fatalf("process day 10: %v", err)
	}
	if report != (FollowUpReport{Claimed: 2, Done: 2}) {
		t.Fatalf("day 10 report = %+v", report)
	}

	report, err = h.ctrl.ProcessDueFollowUps(context.Background(), t0.AddDate(0, 0, 45), 10)
	if err != nil {
		t.Fatalf("process day 45: %v", err)
	}
	if report != (FollowUpReport{Claimed: 1, Failed: 1}) {
		t.Fatalf("day 45 report = %+v", report)
	}
	st := h.db.snapshot()
	if e := st.executions[exec.ID]; e.State != StateFailed || e.FailureReason != ReasonResponseCeilingExceeded {
		t.Fatalf("unexpected execution %+v", e)
	}
	if st.items["item-1"].Status != item.StatusActive {
		t.Errorf("expected item released, got %s", st.items["item-1"].Status)
	}
}

func TestProcessDueFollowUps_TerminalExecutionIsNoOp(t *testing.T) {
	h := newHarness(t)
	exec := h.openAndSend(t, "factual_dispute")
	if _, err := h.ctrl.RecordResponse(context.Background(), ResponseRequest{ExecutionID: exec.ID, Outcome: item.OutcomeDeleted}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	// A reminder left scheduled by an older process.
	h.db.committed.followUps["stale"] = FollowUp{ID: "stale", ExecutionID: exec.ID, Type: FollowUpStatusCheck, ScheduledFor: t0, Status: FollowUpScheduled}

	report, err := h.ctrl.ProcessDueFollowUps(context.Background(), t0.AddDate(0, 0, 1), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report != (FollowUpReport{Claimed: 1, Cancelled: 1}) {
		t.Fatalf("report = %+v", report)
	}
	if got := h.db.snapshot().followUps["stale"].Status; got != FollowUpCancelled {
		t.Fatalf("stale follow-up = %s", got)
	}
}

func TestProcessDueFollowUps_RespectsLimit(t *testing.T) {
	h := newHarness(t)
	h.openAndSend(t, "factual_dispute")
	h.openAndSend(t, "debt_validation")

	report, err := h.ctrl.ProcessDueFollowUps(context.Background(), t0.AddDate(0, 0, 16), 1)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Claimed != 1 {
		t.Fatalf("expected one claimed, got %+v", report)
	}
}

func TestSchedule_Validate(t *testing.T) {
	if err := DefaultSchedule().Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
	bad := []Schedule{
		{StatusCheckDays: 15, FollowUpLetterDays: 15, EscalationDays: 45, ResponseWindowDays: 30},
		{StatusCheckDays: 15, FollowUpLetterDays: 50, EscalationDays: 45, ResponseWindowDays: 30},
		{StatusCheckDays: 0, FollowUpLetterDays: 35, EscalationDays: 45, ResponseWindowDays: 30},
		{StatusCheckDays: 15, FollowUpLetterDays: 35, EscalationDays: 45, ResponseWindowDays: 0},
	}
	for _, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("Validate(%+v) = %v", s, err)
		}
	}
}
