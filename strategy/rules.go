package strategy

import (
	"sort"
	"strings"
	"time"

	"disputeflow/item"
)

// Condition names a predicate over an item. Catalog entries reference
// conditions by name so eligibility stays data driven.
type Condition string

const (
	CondPriorDispute             Condition = "prior_dispute"
	CondPriorVerified            Condition = "prior_outcome_verified"
	CondPriorNoResponse          Condition = "prior_no_response"
	CondPriorPartialSuccess      Condition = "prior_partial_success"
	CondPriorRejected            Condition = "prior_rejected"
	CondPriorUnfavorable         Condition = "prior_unfavorable_outcome"
	CondRepeatedVerification     Condition = "repeated_verification"
	CondPastStatuteOfLimitations Condition = "past_statute_of_limitations"
	CondCourtListedAsFurnisher   Condition = "court_listed_as_furnisher"
	CondItemObsolete             Condition = "item_obsolete"
	CondRecentInquiry            Condition = "recent_inquiry"
	CondMissingReportableFields  Condition = "missing_reportable_fields"
	CondIdentityTheftReported    Condition = "identity_theft_reported"
	CondReAged                   Condition = "re_aged"
	CondReportingInconsistency   Condition = "reporting_inconsistency"
	CondBalanceReported          Condition = "balance_reported"
	CondPaidOrSettled            Condition = "paid_or_settled"
	CondCollectorMisconduct      Condition = "collector_misconduct_reported"
	CondJurisdictionKnown        Condition = "jurisdiction_known"
	CondMedicalDebt              Condition = "medical_debt"
	CondLatePaymentHistory       Condition = "late_payment_history"
	CondGoodStanding             Condition = "good_standing"
	CondHardshipNoted            Condition = "hardship_noted"
	CondArbitrationClause        Condition = "arbitration_clause"
)

// predicate reports whether a condition holds for an item and whether the
// item carries enough data to decide it at all.
type predicate func(it item.CreditItem, asOf time.Time) (holds, verifiable bool)

var predicates = map[Condition]predicate{
	CondPriorDispute: func(it item.CreditItem, _ time.Time) (bool, bool) {
		return len(it.History) > 0, true
	},
	CondPriorVerified:       outcomeSeen(item.OutcomeVerified),
	CondPriorNoResponse:     outcomeSeen(item.OutcomeNoResponse),
	CondPriorPartialSuccess: outcomeSeen(item.OutcomePartialSuccess),
	CondPriorRejected:       outcomeSeen(item.OutcomeRejected),
	CondPriorUnfavorable: func(it item.CreditItem, _ time.Time) (bool, bool) {
		return it.HasOutcome(item.OutcomeVerified) || it.HasOutcome(item.OutcomeRejected) || it.HasOutcome(item.OutcomeNoResponse), true
	},
	CondRepeatedVerification: func(it item.CreditItem, _ time.Time) (bool, bool) {
		n := 0
		for _, a := range it.History {
			if a.Outcome == item.OutcomeVerified || a.Outcome == item.OutcomeNoResponse {
				n++
			}
		}
		return n >= 2, true
	},
	CondPastStatuteOfLimitations: pastStatuteOfLimitations,
	CondCourtListedAsFurnisher: func(it item.CreditItem, _ time.Time) (bool, bool) {
		name := strings.ToLower(strings.TrimSpace(it.CreditorName))
		if name == "" {
			return false, false
		}
		return strings.Contains(name, "court") || strings.Contains(name, "clerk"), true
	},
	CondItemObsolete: func(it item.CreditItem, asOf time.Time) (bool, bool) {
		if !hasAgeAnchor(it) {
			return false, false
		}
		limit := 7.0
		if it.Severity() == item.SeverityBankruptcy {
			limit = 10
		}
		return it.AgeYears(asOf) > limit, true
	},
	CondRecentInquiry: func(it item.CreditItem, asOf time.Time) (bool, bool) {
		if it.Type != item.TypeInquiry {
			return false, true
		}
		if !hasAgeAnchor(it) {
			return false, false
		}
		return it.AgeYears(asOf) <= 2, true
	},
	CondMissingReportableFields: func(it item.CreditItem, _ time.Time) (bool, bool) {
		return len(MissingFields(it)) > 0, true
	},
	CondIdentityTheftReported: remarksMention("identity theft", "fraud", "not mine", "ftc report"),
	CondReAged:                remarksMention("re-aged", "reaged", "re-aging", "date of first delinquency changed"),
	CondReportingInconsistency: func(it item.CreditItem, _ time.Time) (bool, bool) {
		if it.OpenedAt == nil || (it.ClosedAt == nil && it.ReportedAt == nil) {
			return false, false
		}
		if it.ClosedAt != nil && it.ClosedAt.Before(*it.OpenedAt) {
			return true, true
		}
		if it.ReportedAt != nil && it.ReportedAt.Before(*it.OpenedAt) {
			return true, true
		}
		return false, true
	},
	CondBalanceReported: func(it item.CreditItem, _ time.Time) (bool, bool) {
		return it.Balance > 0, true
	},
	CondPaidOrSettled: func(it item.CreditItem, _ time.Time) (bool, bool) {
		s := strings.ToLower(it.PaymentStatus + " " + it.Remarks)
		return strings.Contains(s, "paid") || strings.Contains(s, "settled"), true
	},
	CondCollectorMisconduct: remarksMention("harass", "fdcpa", "threat", "called at work"),
	CondJurisdictionKnown: func(it item.CreditItem, _ time.Time) (bool, bool) {
		_, ok := LimitationYears(it.Jurisdiction)
		return ok, true
	},
	CondMedicalDebt: func(it item.CreditItem, _ time.Time) (bool, bool) {
		s := strings.ToLower(it.CreditorName + " " + it.Remarks)
		for _, kw := range []string{"medical", "hospital", "health", "clinic", "physician", "radiology", "ambulance"} {
			if strings.Contains(s, kw) {
				return true, true
			}
		}
		return false, true
	},
	CondLatePaymentHistory: func(it item.CreditItem, _ time.Time) (bool, bool) {
		switch it.Severity() {
		case item.SeverityLate30, item.SeverityLate60, item.SeverityLate90, item.SeverityLate120:
			return true, true
		}
		return false, true
	},
	CondGoodStanding: func(it item.CreditItem, _ time.Time) (bool, bool) {
		s := strings.ToLower(it.PaymentStatus + " " + it.Remarks)
		return it.ClosedAt != nil || strings.Contains(s, "paid") || strings.Contains(s, "current"), true
	},
	CondHardshipNoted:     remarksMention("hardship", "unemploy", "medical emergency", "disaster", "deployment"),
	CondArbitrationClause: remarksMention("arbitration"),
}

// Known reports whether c is a registered condition.
func (c Condition) Known() bool {
	_, ok := predicates[c]
	return ok
}

// Evaluate reports whether the condition holds for it at asOf and whether it
// could be decided from the item's data. Unknown conditions are unverifiable.
func (c Condition) Evaluate(it item.CreditItem, asOf time.Time) (holds, verifiable bool) {
	p, ok := predicates[c]
	if !ok {
		return false, false
	}
	return p(it, asOf)
}

// Conditions lists the registered condition names in sorted order.
func Conditions() []Condition {
	out := make([]Condition, 0, len(predicates))
	for c := range predicates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MissingFields lists the reportable fields an item lacks. Inquiries carry
// no account number or opening date, so only the report date counts for them.
func MissingFields(it item.CreditItem) []string {
	var missing []string
	if it.Type != item.TypeInquiry {
		if strings.TrimSpace(it.AccountNumber) == "" {
			missing = append(missing, "account_number")
		}
		if it.OpenedAt == nil {
			missing = append(missing, "opened_at")
		}
	}
	if it.ReportedAt == nil {
		missing = append(missing, "reported_at")
	}
	return missing
}

func outcomeSeen(o item.Outcome) predicate {
	return func(it item.CreditItem, _ time.Time) (bool, bool) {
		return it.HasOutcome(o), true
	}
}

func remarksMention(keywords ...string) predicate {
	return func(it item.CreditItem, _ time.Time) (bool, bool) {
		remarks := strings.ToLower(it.Remarks)
		for _, kw := range keywords {
			if strings.Contains(remarks, kw) {
				return true, true
			}
		}
		return false, true
	}
}

func hasAgeAnchor(it item.CreditItem) bool {
	return it.OpenedAt != nil || it.ReportedAt != nil
}

// pastStatuteOfLimitations measures from the last activity date: closing
// date when present, otherwise the opening date.
func pastStatuteOfLimitations(it item.CreditItem, asOf time.Time) (bool, bool) {
	years, ok := LimitationYears(it.Jurisdiction)
	if !ok {
		return false, false
	}
	anchor := it.ClosedAt
	if anchor == nil {
		anchor = it.OpenedAt
	}
	if anchor == nil {
		return false, false
	}
	return anchor.AddDate(years, 0, 0).Before(asOf), true
}

// limitationYears holds the limitation period for open-ended accounts by state.
var limitationYears = map[string]int{
	"AL": 3, "AK": 3, "AZ": 6, "AR": 3, "CA": 4, "CO": 6, "CT": 6, "DE": 3, "DC": 3,
	"FL": 4, "GA": 4, "HI": 6, "ID": 4, "IL": 5, "IN": 6, "IA": 5, "KS": 3, "KY": 5,
	"LA": 3, "ME": 6, "MD": 3, "MA": 6, "MI": 6, "MN": 6, "MS": 3, "MO": 5, "MT": 5,
	"NE": 4, "NV": 4, "NH": 3, "NJ": 6, "NM": 4, "NY": 3, "NC": 3, "ND": 6, "OH": 6,
	"OK": 3, "OR": 6, "PA": 4, "RI": 10, "SC": 3, "SD": 6, "TN": 6, "TX": 4, "UT": 4,
	"VT": 6, "VA": 3, "WA": 6, "WV": 5, "WI": 6, "WY": 8,
}

// LimitationYears returns the statute of limitations for a two-letter
// jurisdiction code.
func LimitationYears(jurisdiction string) (int, bool) {
	years, ok := limitationYears[strings.ToUpper(strings.TrimSpace(jurisdiction))]
	return years, ok
}
