package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"disputeflow/directory"
	"disputeflow/item"
	"disputeflow/priority"
)

const (
	minProbability = 0.05
	maxProbability = 0.95
)

// Recommendation is the selector's verdict for one eligible (item, strategy) pair.
type Recommendation struct {
	ItemID             string         `json:"item_id" yaml:"item_id"`
	StrategyID         string         `json:"strategy_id" yaml:"strategy_id"`
	StrategyName       string         `json:"strategy_name" yaml:"strategy_name"`
	Tier               int            `json:"tier" yaml:"tier"`
	Class              Class          `json:"class" yaml:"class"`
	Recipient          directory.Kind `json:"recipient" yaml:"recipient"`
	SuccessProbability float64        `json:"success_probability" yaml:"success_probability"`
	ImpactScore        float64        `json:"impact_score" yaml:"impact_score"`
	Reasoning          string         `json:"reasoning" yaml:"reasoning"`
	ExpectedTimeline   string         `json:"expected_timeline" yaml:"expected_timeline"`
	LegalBasis         string         `json:"legal_basis" yaml:"legal_basis"`
	Citations          []string       `json:"citations" yaml:"citations"`
	Prerequisites      []Condition    `json:"prerequisites" yaml:"prerequisites"`
	Contraindications  []Condition    `json:"contraindications" yaml:"contraindications"`
}

// ExpectedValue is the ordering key callers sort recommendations by.
func (r Recommendation) ExpectedValue() float64 {
	return r.SuccessProbability * r.ImpactScore
}

// Rejection explains why a strategy was not eligible for an item.
type Rejection struct {
	StrategyID string   `json:"strategy_id"`
	Reasons    []string `json:"reasons"`
}

// Selector evaluates catalog entries against items. It holds no mutable state
// besides its clock, so one Selector may be shared across goroutines.
type Selector struct {
	catalog *Catalog
	now     func() time.Time
}

func NewSelector(catalog *Catalog) *Selector {
	return &Selector{catalog: catalog, now: time.Now}
}

// WithClock overrides the clock used by Select and Check.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

func (s *Selector) Catalog() *Catalog { return s.catalog }

// Select returns the eligible strategies for it in catalog order.
func (s *Selector) Select(it item.CreditItem, prior []item.Attempt) []Recommendation {
	return s.SelectAt(it, prior, s.now())
}

// SelectAt is Select evaluated at an explicit instant. priorAttempts is the
// owner's dispute history across items and feeds the observed success rate;
// eligibility is decided from the item's own history.
func (s *Selector) SelectAt(it item.CreditItem, priorAttempts []item.Attempt, asOf time.Time) []Recommendation {
	var recs []Recommendation
	for _, st := range s.catalog.strategies {
		if reasons := rejectReasons(st, it, asOf); len(reasons) > 0 {
			continue
		}
		recs = append(recs, recommend(st, it, priorAttempts, asOf))
	}
	return recs
}

// Check evaluates one strategy. It returns ErrUnknownStrategy for ids missing
// from the catalog and ErrIneligible, with the reasons, otherwise.
func (s *Selector) Check(it item.CreditItem, priorAttempts []item.Attempt, strategyID string) (Recommendation, error) {
	return s.CheckAt(it, priorAttempts, strategyID, s.now())
}

func (s *Selector) CheckAt(it item.CreditItem, priorAttempts []item.Attempt, strategyID string, asOf time.Time) (Recommendation, error) {
	st, err := s.catalog.Get(strategyID)
	if err != nil {
		return Recommendation{}, err
	}
	if reasons := rejectReasons(st, it, asOf); len(reasons) > 0 {
		return Recommendation{}, fmt.Errorf("%w: %s: %s", ErrIneligible, strategyID, strings.Join(reasons, "; "))
	}
	return recommend(st, it, priorAttempts, asOf), nil
}

// Explain lists every ineligible strategy with its rejection reasons.
func (s *Selector) Explain(it item.CreditItem) []Rejection {
	asOf := s.now()
	var out []Rejection
	for _, st := range s.catalog.strategies {
		if reasons := rejectReasons(st, it, asOf); len(reasons) > 0 {
			out = append(out, Rejection{StrategyID: st.ID, Reasons: reasons})
		}
	}
	return out
}

func rejectReasons(st Strategy, it item.CreditItem, asOf time.Time) []string {
	var reasons []string
	if it.Status == item.StatusResolved {
		reasons = append(reasons, "item is resolved")
	}
	if !st.TargetsType(it.Type) {
		reasons = append(reasons, fmt.Sprintf("item type %s not targeted", it.Type))
	}
	for _, cond := range st.Prerequisites {
		holds, verifiable := cond.Evaluate(it, asOf)
		switch {
		case !verifiable:
			reasons = append(reasons, fmt.Sprintf("prerequisite %s cannot be verified from item data", cond))
		case !holds:
			reasons = append(reasons, fmt.Sprintf("prerequisite %s not met", cond))
		}
	}
	for _, cond := range st.Contraindications {
		if holds, _ := cond.Evaluate(it, asOf); holds {
			reasons = append(reasons, fmt.Sprintf("contraindicated by %s", cond))
		}
	}
	if n := it.AttemptsFor(st.ID); n > MaxAttemptsPerStrategy {
		reasons = append(reasons, fmt.Sprintf("already attempted %d times", n))
	}
	return reasons
}

func recommend(st Strategy, it item.CreditItem, priorAttempts []item.Attempt, asOf time.Time) Recommendation {
	p := st.NominalRate
	notes := []string{fmt.Sprintf("nominal rate %.2f", st.NominalRate)}

	if it.OpenedAt != nil || it.ReportedAt != nil {
		age := it.AgeYears(asOf)
		switch {
		case age < 1:
			p -= 0.05
			notes = append(notes, "recent item -0.05")
		case age > 7:
			p += 0.10
			notes = append(notes, "item older than 7 years +0.10")
		case age > 5:
			p += 0.05
			notes = append(notes, "item older than 5 years +0.05")
		}
	}

	if missing := MissingFields(it); len(missing) > 0 {
		p += 0.05
		notes = append(notes, fmt.Sprintf("incomplete reporting (%s) +0.05", strings.Join(missing, ", ")))
	}

	var tried, succeeded int
	for _, a := range priorAttempts {
		if a.StrategyID != st.ID {
			continue
		}
		tried++
		if a.Outcome.Successful() {
			succeeded++
		}
	}
	if tried > 0 {
		observed := float64(succeeded) / float64(tried)
		p = 0.5*p + 0.5*observed
		notes = append(notes, fmt.Sprintf("blended with observed rate %.2f over %d attempts", observed, tried))
	}

	p = clamp(p)
	return Recommendation{
		ItemID:             it.ID,
		StrategyID:         st.ID,
		StrategyName:       st.Name,
		Tier:               st.Tier,
		Class:              st.Class,
		Recipient:          st.Recipient,
		SuccessProbability: p,
		ImpactScore:        priority.BaseWeight(it) * st.ImpactFactor,
		Reasoning:          strings.Join(notes, "; "),
		ExpectedTimeline:   DurationBucket(EstimateDays(st.Tier, 1)),
		LegalBasis:         st.LegalBasis,
		Citations:          append([]string(nil), st.Citations...),
		Prerequisites:      append([]Condition(nil), st.Prerequisites...),
		Contraindications:  append([]Condition(nil), st.Contraindications...),
	}
}

// clamp bounds p and rounds away float noise so equal inputs compare equal.
func clamp(p float64) float64 {
	p = math.Round(p*10000) / 10000
	return math.Max(minProbability, math.Min(maxProbability, p))
}

// SortByExpectedValue orders recommendations by probability times impact,
// highest first. Ties keep their input order.
func SortByExpectedValue(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ExpectedValue() > recs[j].ExpectedValue()
	})
}
