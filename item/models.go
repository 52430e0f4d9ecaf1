package item

import (
	"strings"
	"time"
	"unicode"
)

// Type classifies a disputable record on a credit report.
type Type string

const (
	TypeAccount      Type = "account"
	TypeInquiry      Type = "inquiry"
	TypePublicRecord Type = "public_record"
	TypeCollection   Type = "collection"
)

// Status is the lifecycle status of an item. Items are never deleted, only
// transitioned.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
)

// Outcome is the result a bureau or furnisher returned for one dispute attempt.
type Outcome string

const (
	OutcomeDeleted        Outcome = "deleted"
	OutcomeModified       Outcome = "modified"
	OutcomeVerified       Outcome = "verified"
	OutcomeRejected       Outcome = "rejected"
	OutcomeNoResponse     Outcome = "no_response"
	OutcomePartialSuccess Outcome = "partial_success"
)

// Successful reports whether the outcome removed or corrected the item.
func (o Outcome) Successful() bool {
	return o == OutcomeDeleted || o == OutcomeModified
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeDeleted, OutcomeModified, OutcomeVerified, OutcomeRejected, OutcomeNoResponse, OutcomePartialSuccess:
		return true
	default:
		return false
	}
}

// Attempt records one prior dispute of an item under a strategy.
type Attempt struct {
	ItemID      string    `json:"item_id" yaml:"item_id"`
	ExecutionID string    `json:"execution_id,omitempty" yaml:"execution_id,omitempty"`
	StrategyID  string    `json:"strategy_id" yaml:"strategy_id"`
	Outcome     Outcome   `json:"outcome" yaml:"outcome"`
	RecordedAt  time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// CreditItem mirrors the credit_items table plus its ordered attempt history.
type CreditItem struct {
	ID               string     `json:"id" yaml:"id"`
	OwnerID          string     `json:"owner_id" yaml:"owner_id"`
	Type             Type       `json:"type" yaml:"type"`
	Bureau           string     `json:"bureau" yaml:"bureau"`
	CreditorName     string     `json:"creditor_name" yaml:"creditor_name"`
	FurnisherAddress string     `json:"furnisher_address" yaml:"furnisher_address"`
	AccountNumber    string     `json:"account_number" yaml:"account_number"`
	Balance          float64    `json:"balance" yaml:"balance"`
	OpenedAt         *time.Time `json:"opened_at,omitempty" yaml:"opened_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
	ReportedAt       *time.Time `json:"reported_at,omitempty" yaml:"reported_at,omitempty"`
	PaymentStatus    string     `json:"payment_status" yaml:"payment_status"`
	Jurisdiction     string     `json:"jurisdiction" yaml:"jurisdiction"`
	Remarks          string     `json:"remarks,omitempty" yaml:"remarks,omitempty"`
	Status           Status     `json:"status" yaml:"status"`
	History          []Attempt  `json:"history,omitempty" yaml:"history,omitempty"`
	CreatedAt        time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Severity is the normalized reading of a free-form payment status string.
type Severity string

const (
	SeverityCurrent      Severity = "current"
	SeverityLate30       Severity = "late_30"
	SeverityLate60       Severity = "late_60"
	SeverityLate90       Severity = "late_90"
	SeverityLate120      Severity = "late_120"
	SeverityChargeOff    Severity = "charge_off"
	SeverityCollection   Severity = "collection"
	SeverityRepossession Severity = "repossession"
	SeverityForeclosure  Severity = "foreclosure"
	SeverityBankruptcy   Severity = "bankruptcy"
	SeverityDerogatory   Severity = "derogatory"
)

// ParseSeverity normalizes report payment-status text such as "Charged Off",
// "60 days late" or "CO" into a Severity.
func ParseSeverity(status string) Severity {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "":
		return SeverityCurrent
	case strings.Contains(s, "bankrupt"), strings.HasPrefix(s, "chapter"):
		return SeverityBankruptcy
	case strings.Contains(s, "charge"), s == "co":
		return SeverityChargeOff
	case strings.Contains(s, "collection"):
		return SeverityCollection
	case strings.Contains(s, "repossess"), hasWord(s, "repo"):
		return SeverityRepossession
	case strings.Contains(s, "foreclos"):
		return SeverityForeclosure
	case strings.Contains(s, "120"), strings.Contains(s, "150"), strings.Contains(s, "180"):
		return SeverityLate120
	case strings.Contains(s, "90"):
		return SeverityLate90
	case strings.Contains(s, "60"):
		return SeverityLate60
	case strings.Contains(s, "30"), strings.Contains(s, "late"):
		return SeverityLate30
	case strings.Contains(s, "judgment"), strings.Contains(s, "lien"), strings.Contains(s, "derog"), strings.Contains(s, "settled"):
		return SeverityDerogatory
	default:
		return SeverityCurrent
	}
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if f == word {
			return true
		}
	}
	return false
}

// Severity returns the parsed payment status of the item.
func (c CreditItem) Severity() Severity {
	return ParseSeverity(c.PaymentStatus)
}

// IsNegative reports whether the payment status is adverse.
func (c CreditItem) IsNegative() bool {
	return c.Severity() != SeverityCurrent
}

// AgeYears is the age of the item in years at asOf, measured from the opened
// date, falling back to the reported date. Unknown dates yield 0.
func (c CreditItem) AgeYears(asOf time.Time) float64 {
	anchor := c.OpenedAt
	if anchor == nil {
		anchor = c.ReportedAt
	}
	if anchor == nil || anchor.After(asOf) {
		return 0
	}
	return asOf.Sub(*anchor).Hours() / (24 * 365.25)
}

// AttemptsFor counts the attempts made on the item with strategyID.
func (c CreditItem) AttemptsFor(strategyID string) int {
	n := 0
	for _, a := range c.History {
		if a.StrategyID == strategyID {
			n++
		}
	}
	return n
}

// HasOutcome reports whether any prior attempt on the item ended with outcome.
func (c CreditItem) HasOutcome(outcome Outcome) bool {
	for _, a := range c.History {
		if a.Outcome == outcome {
			return true
		}
	}
	return false
}

// LastAttempt returns the most recent attempt, if any.
func (c CreditItem) LastAttempt() (Attempt, bool) {
	if len(c.History) == 0 {
		return Attempt{}, false
	}
	return c.History[len(c.History)-1], true
}

// Filters narrows List queries.
type Filters struct {
	OwnerID string
	Status  Status
	Type    Type
}
