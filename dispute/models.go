package dispute

import (
	"time"

	"disputeflow/directory"
	"disputeflow/item"
)

// State is the lifecycle state of one dispute execution.
type State string

const (
	StateDraft     State = "draft"
	StatePending   State = "pending"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var transitions = map[State][]State{
	StateDraft:     {StatePending},
	StatePending:   {StateExecuting, StateFailed},
	StateExecuting: {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateExecuting, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// Failure reasons recorded on failed executions.
const (
	ReasonAbandoned               = "abandoned"
	ReasonResponseCeilingExceeded = "response_ceiling_exceeded"
)

// Execution is one attempt at applying a strategy to an item.
type Execution struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	ItemID         string         `json:"item_id"`
	StrategyID     string         `json:"strategy_id"`
	State          State          `json:"state"`
	RecipientKind  directory.Kind `json:"recipient_kind"`
	Recipient      string         `json:"recipient"`
	Success        *bool          `json:"success,omitempty"`
	Outcome        item.Outcome   `json:"outcome,omitempty"`
	OutcomeDetails string         `json:"outcome_details,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	NextStrategyID *string        `json:"next_strategy_id,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type FollowUpType string

const (
	FollowUpStatusCheck FollowUpType = "status_check"
	FollowUpLetter      FollowUpType = "follow_up_letter"
	FollowUpEscalation  FollowUpType = "escalation"
	FollowUpMOVRequest  FollowUpType = "mov_request"
)

type FollowUpStatus string

const (
	FollowUpScheduled FollowUpStatus = "scheduled"
	FollowUpDone      FollowUpStatus = "done"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUp is a durable reminder consumed by the periodic trigger.
type FollowUp struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	Type         FollowUpType   `json:"type"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Description  string         `json:"description"`
	Automatable  bool           `json:"automatable"`
	Status       FollowUpStatus `json:"status"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// EventType names an entry in the per-execution event log.
type EventType string

const (
	EventOpened           EventType = "opened"
	EventSent             EventType = "sent"
	EventResponseRecorded EventType = "response_recorded"
	EventFailed           EventType = "failed"
	EventFollowUpDue      EventType = "follow_up_due"
)

// Event is one append-only row of dispute_events.
type Event struct {
	ExecutionID string
	Type        EventType
	From        State
	To          State
	Payload     map[string]any
	At          time.Time
}

// Filters narrows List queries.
type Filters struct {
	OwnerID string
	ItemID  string
	State   State
}

// OpenRequest asks for a new execution of strategyID against itemID.
type OpenRequest struct {
	ItemID     string
	StrategyID string
}

// ResponseRequest records what the recipient answered. IdempotencyKey, when
// set, makes replays return the stored execution.
type ResponseRequest struct {
	ExecutionID    string
	Outcome        item.Outcome
	Details        string
	IdempotencyKey string
}

// FollowUpReport summarizes one ProcessDueFollowUps pass.
type FollowUpReport struct {
	Claimed   int `json:"claimed"`
	Done      int `json:"done"`
	Cancelled int `json:"cancelled"`
	Responses int `json:"responses"`
	Failed    int `json:"failed"`
}
