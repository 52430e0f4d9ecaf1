package dispute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"disputeflow/item"
	"disputeflow/letter"
)

// memDB is an in-memory stand-in for Postgres. Begin snapshots the committed
// state; Commit publishes the snapshot, so a failed transition leaves no
// trace.
type memDB struct {
	mu        sync.Mutex
	committed *memState
	commits   int
	failSink  error
}

type outboxRow struct {
	topic   string
	payload map[string]any
}

type memState struct {
	items      map[string]item.CreditItem
	executions map[string]Execution
	followUps  map[string]FollowUp
	letters    map[string]letter.Letter
	events     []Event
	outbox     []outboxRow
	keys       map[string]string
}

func newMemDB(items ...item.CreditItem) *memDB {
	st := &memState{
		items:      map[string]item.CreditItem{},
		executions: map[string]Execution{},
		followUps:  map[string]FollowUp{},
		letters:    map[string]letter.Letter{},
		keys:       map[string]string{},
	}
	for _, it := range items {
		st.items[it.ID] = it
	}
	return &memDB{committed: st}
}

func (s *memState) clone() *memState {
	out := &memState{
		items:      make(map[string]item.CreditItem, len(s.items)),
		executions: make(map[string]Execution, len(s.executions)),
		followUps:  make(map[string]FollowUp, len(s.followUps)),
		letters:    make(map[string]letter.Letter, len(s.letters)),
		events:     append([]Event(nil), s.events...),
		outbox:     append([]outboxRow(nil), s.outbox...),
		keys:       make(map[string]string, len(s.keys)),
	}
	for k, v := range s.items {
		v.History = append([]item.Attempt(nil), v.History...)
		out.items[k] = v
	}
	for k, v := range s.executions {
		out.executions[k] = v
	}
	for k, v := range s.followUps {
		out.followUps[k] = v
	}
	for k, v := range s.letters {
		out.letters[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	return out
}

// snapshot returns a copy of the committed state for assertions.
func (db *memDB) snapshot() *memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.committed.clone()
}

func (db *memDB) Begin(ctx context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &memTx{db: db, state: db.committed.clone()}, nil
}

func stateOf(tx pgx.Tx) *memState {
	return tx.(*memTx).state
}

type memTx struct {
	db    *memDB
	state *memState
	done  bool
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memTx does not support nested transactions")
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.committed = t.state
	t.db.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	return nil
}

func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *memTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *memTx) Conn() *pgx.Conn {
	return nil
}

// memRepo implements Repository.
type memRepo struct{ db *memDB }

func (r memRepo) Get(ctx context.Context, id string) (Execution, error) {
	e, ok := r.db.snapshot().executions[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return e, nil
}

func (r memRepo) List(ctx context.Context, filters Filters) ([]Execution, error) {
	var out []Execution
	for _, e := range r.db.snapshot().executions {
		if (filters.OwnerID == "" || e.OwnerID == filters.OwnerID) &&
			(filters.ItemID == "" || e.ItemID == filters.ItemID) &&
			(filters.State == "" || e.State == filters.State) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRepo) ListFollowUps(ctx context.Context, executionID string) ([]FollowUp, error) {
	var out []FollowUp
	for _, f := range r.db.snapshot().followUps {
		if f.ExecutionID == executionID {
			out = append(out, f)
		}
	}
	sortFollowUps(out)
	return out, nil
}

func (r memRepo) LookupIdempotencyKey(ctx context.Context, key string) (string, error) {
	id, ok := r.db.snapshot().keys[key]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (r memRepo) Create(ctx context.Context, tx pgx.Tx, e Execution) (Execution, error) {
	st := stateOf(tx)
	for _, other := range st.executions {
		if other.ItemID == e.ItemID && other.StrategyID == e.StrategyID && !other.State.Terminal() {
			return Execution{}, ErrExecutionInFlight
		}
	}
	st.executions[e.ID] = e
	return e, nil
}

func (r memRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Execution, error) {
	e, ok := stateOf(tx).executions[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return e, nil
}

func (r memRepo) Update(ctx context.Context, tx pgx.Tx, e Execution) error {
	st := stateOf(tx)
	if _, ok := st.executions[e.ID]; !ok {
		return ErrNotFound
	}
	st.executions[e.ID] = e
	return nil
}

func (r memRepo) ListInFlight(ctx context.Context, tx pgx.Tx, itemID, strategyID string) ([]Execution, error) {
	var out []Execution
	for _, e := range stateOf(tx).executions {
		if e.ItemID == itemID && e.StrategyID == strategyID && !e.State.Terminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memRepo) HasCompleted(ctx context.Context, tx pgx.Tx, itemID, strategyID string) (bool, error) {
	for _, e := range stateOf(tx).executions {
		if e.ItemID == itemID && e.StrategyID == strategyID && e.State == StateCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r memRepo) CountExecuting(ctx context.Context, tx pgx.Tx, itemID, excludeID string) (int, error) {
	n := 0
	for _, e := range stateOf(tx).executions {
		if e.ItemID == itemID && e.ID != excludeID && e.State == StateExecuting {
			n++
		}
	}
	return n, nil
}

func (r memRepo) AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	st := stateOf(tx)
	st.events = append(st.events, ev)
	return nil
}

func (r memRepo) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key, executionID string) error {
	st := stateOf(tx)
	if _, ok := st.keys[key]; ok {
		return ErrDuplicateIdempotencyKey
	}
	st.keys[key] = executionID
	return nil
}

func (r memRepo) ScheduleFollowUps(ctx context.Context, tx pgx.Tx, followUps []FollowUp) error {
	st := stateOf(tx)
	for _, f := range followUps {
		st.followUps[f.ID] = f
	}
	return nil
}

func (r memRepo) CancelFollowUps(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) (int, error) {
	st := stateOf(tx)
	n := 0
	for id, f := range st.followUps {
		if f.ExecutionID == executionID && f.Status == FollowUpScheduled {
			f.Status = FollowUpCancelled
			f.CompletedAt = &at
			st.followUps[id] = f
			n++
		}
	}
	return n, nil
}

func (r memRepo) ClaimDueFollowUps(ctx context.Context, tx pgx.Tx, asOf time.Time, limit int) ([]FollowUp, error) {
	var due []FollowUp
	for _, f := range stateOf(tx).followUps {
		if f.Status == FollowUpScheduled && !f.ScheduledFor.After(asOf) {
			due = append(due, f)
		}
	}
	sortFollowUps(due)
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r memRepo) CompleteFollowUp(ctx context.Context, tx pgx.Tx, id string, status FollowUpStatus, at time.Time) error {
	st := stateOf(tx)
	f, ok := st.followUps[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	f.CompletedAt = &at
	st.followUps[id] = f
	return nil
}

func sortFollowUps(fs []FollowUp) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].ScheduledFor.Equal(fs[j].ScheduledFor) {
			return fs[i].ScheduledFor.Before(fs[j].ScheduledFor)
		}
		return fs[i].ID < fs[j].ID
	})
}

// memItems implements item.Repository.
type memItems struct{ db *memDB }

func (r memItems) Get(ctx context.Context, id string) (item.CreditItem, error) {
	it, ok := r.db.snapshot().items[id]
	if !ok {
		return item.CreditItem{}, item.ErrNotFound
	}
	return it, nil
}

func (r memItems) List(ctx context.Context, filters item.Filters) ([]item.CreditItem, error) {
	var out []item.CreditItem
	for _, it := range r.db.snapshot().items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memItems) Create(ctx context.Context, tx pgx.Tx, it item.CreditItem) (item.CreditItem, error) {
	stateOf(tx).items[it.ID] = it
	return it, nil
}

func (r memItems) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (item.CreditItem, error) {
	it, ok := stateOf(tx).items[id]
	if !ok {
		return item.CreditItem{}, item.ErrNotFound
	}
	it.History = append([]item.Attempt(nil), it.History...)
	return it, nil
}

func (r memItems) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status item.Status) error {
	st := stateOf(tx)
	it, ok := st.items[id]
	if !ok {
		return item.ErrNotFound
	}
	it.Status = status
	st.items[id] = it
	return nil
}

func (r memItems) AppendAttempt(ctx context.Context, tx pgx.Tx, attempt item.Attempt) error {
	st := stateOf(tx)
	it, ok := st.items[attempt.ItemID]
	if !ok {
		return item.ErrNotFound
	}
	it.History = append(it.History, attempt)
	st.items[attempt.ItemID] = it
	return nil
}

// memLetters implements letter.Repository.
type memLetters struct{ db *memDB }

func (r memLetters) Create(ctx context.Context, tx pgx.Tx, l letter.Letter) (letter.Letter, error) {
	stateOf(tx).letters[l.ExecutionID] = l
	return l, nil
}

func (r memLetters) MarkSent(ctx context.Context, tx pgx.Tx, executionID string, at time.Time) error {
	st := stateOf(tx)
	l, ok := st.letters[executionID]
	if !ok || l.Status != letter.StatusDraft {
		return letter.ErrNotFound
	}
	l.Status = letter.StatusSent
	l.SentAt = &at
	st.letters[executionID] = l
	return nil
}

func (r memLetters) GetByExecution(ctx context.Context, executionID string) (letter.Letter, error) {
	l, ok := r.db.snapshot().letters[executionID]
	if !ok {
		return letter.Letter{}, letter.ErrNotFound
	}
	return l, nil
}

// memSink implements notify.Sink.
type memSink struct{ db *memDB }

func (s memSink) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.db.failSink != nil {
		return s.db.failSink
	}
	st := stateOf(tx)
	st.outbox = append(st.outbox, outboxRow{topic: topic, payload: payload})
	return nil
}

func (s *memState) topics() []string {
	out := make([]string, 0, len(s.outbox))
	for _, row := range s.outbox {
		out = append(out, row.topic)
	}
	return out
}

func (s *memState) eventTypes(executionID string) []EventType {
	var out []EventType
	for _, ev := range s.events {
		if ev.ExecutionID == executionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
