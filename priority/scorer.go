// Package priority ranks credit items by how valuable they are to dispute next.
package priority

import (
	"sort"
	"time"

	"disputeflow/item"
)

// DefaultMaxItems caps Rank output when no explicit limit is given.
const DefaultMaxItems = 10

const (
	ageBonusOver2Years  = 10
	ageBonusOver5Years  = 20
	balanceBonusOver1k  = 10
	balanceBonusOver10k = 15
	penaltyPerAttempt   = 15
	recentInquiryYears  = 2
)

var severityWeights = map[item.Severity]float64{
	item.SeverityBankruptcy:   100,
	item.SeverityChargeOff:    90,
	item.SeverityForeclosure:  90,
	item.SeverityRepossession: 90,
	item.SeverityCollection:   85,
	item.SeverityLate120:      70,
	item.SeverityLate90:       60,
	item.SeverityLate60:       50,
	item.SeverityLate30:       40,
	item.SeverityDerogatory:   30,
}

// AnalysisContext carries the evaluation instant. Scoring never reads the
// wall clock.
type AnalysisContext struct {
	AsOf time.Time
}

type Scorer struct {
	maxItems int
}

// NewScorer builds a scorer whose Rank keeps at most maxItems items. A
// non-positive value selects DefaultMaxItems.
func NewScorer(maxItems int) *Scorer {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Scorer{maxItems: maxItems}
}

// BaseWeight is the impact weight of an item before bonuses. Inquiries weigh
// least; collection and public record types without an adverse status string
// still weigh as negative items.
func BaseWeight(it item.CreditItem) float64 {
	if it.Type == item.TypeInquiry {
		return 15
	}
	if w, ok := severityWeights[it.Severity()]; ok {
		return w
	}
	switch it.Type {
	case item.TypeCollection:
		return severityWeights[item.SeverityCollection]
	case item.TypePublicRecord:
		return severityWeights[item.SeverityDerogatory]
	}
	return 5
}

// Score returns a non-negative priority for it. Identical inputs always
// produce identical output.
func (s *Scorer) Score(it item.CreditItem, ctx AnalysisContext) float64 {
	score := BaseWeight(it)

	age := it.AgeYears(ctx.AsOf)
	if age > 2 {
		score += ageBonusOver2Years
	}
	if age > 5 {
		score += ageBonusOver5Years
	}

	switch {
	case it.Type == item.TypePublicRecord:
		score += 30
	case it.Type == item.TypeCollection:
		score += 20
	case it.Type == item.TypeAccount && it.Severity() == item.SeverityChargeOff:
		score += 15
	}

	if it.Balance > 1000 {
		score += balanceBonusOver1k
	}
	if it.Balance > 10000 {
		score += balanceBonusOver10k
	}

	score -= float64(penaltyPerAttempt * len(it.History))
	if score < 0 {
		return 0
	}
	return score
}

// Disputable reports whether it may be offered for a new dispute.
func Disputable(it item.CreditItem, asOf time.Time) bool {
	if it.Status == item.StatusResolved {
		return false
	}
	switch it.Type {
	case item.TypeCollection, item.TypePublicRecord:
		return true
	case item.TypeInquiry:
		if it.OpenedAt == nil && it.ReportedAt == nil {
			return false
		}
		return it.AgeYears(asOf) <= recentInquiryYears
	}
	return it.IsNegative()
}

// Ranked pairs an item with its score.
type Ranked struct {
	Item  item.CreditItem
	Score float64
}

// Rank filters items to disputable ones, sorts them by descending score with
// ties broken by item ID, and keeps the top n. n <= 0 uses the scorer's cap.
func (s *Scorer) Rank(items []item.CreditItem, ctx AnalysisContext, n int) []Ranked {
	if n <= 0 {
		n = s.maxItems
	}
	ranked := make([]Ranked, 0, len(items))
	for _, it := range items {
		if !Disputable(it, ctx.AsOf) {
			continue
		}
		ranked = append(ranked, Ranked{Item: it, Score: s.Score(it, ctx)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item.ID < ranked[j].Item.ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
