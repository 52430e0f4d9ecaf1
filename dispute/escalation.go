package dispute

import (
	"time"

	"disputeflow/item"
	"disputeflow/strategy"
)

var nextClass = map[item.Outcome]strategy.Class{
	item.OutcomeVerified:       strategy.ClassVerificationChallenge,
	item.OutcomeNoResponse:     strategy.ClassSilenceEstoppel,
	item.OutcomePartialSuccess: strategy.ClassFactualFollowup,
}

// Policy recommends what to try after a response. It never opens
// executions itself.
type Policy struct {
	selector *strategy.Selector
}

func NewPolicy(selector *strategy.Selector) *Policy {
	return &Policy{selector: selector}
}

// Next picks the follow-on strategy for it after current ended with outcome.
// it must already carry the new attempt in its history. Candidates come from
// the selector and exclude every strategy already attempted on the item,
// since an attempt means a completed execution Open would refuse.
func (p *Policy) Next(it item.CreditItem, current strategy.Strategy, outcome item.Outcome, asOf time.Time) *strategy.Recommendation {
	if outcome.Successful() || it.Status == item.StatusResolved {
		return nil
	}
	recs := p.selector.SelectAt(it, it.History, asOf)

	if outcome == item.OutcomeRejected {
		return pick(recs, it, func(r strategy.Recommendation) bool {
			return r.Tier > current.Tier
		})
	}

	class, ok := nextClass[outcome]
	if !ok {
		return nil
	}
	return pick(recs, it, func(r strategy.Recommendation) bool { return r.Class == class })
}

// pick returns the lowest-tier unattempted match, earliest in catalog order.
func pick(recs []strategy.Recommendation, it item.CreditItem, match func(strategy.Recommendation) bool) *strategy.Recommendation {
	var best *strategy.Recommendation
	for i := range recs {
		r := recs[i]
		if !match(r) {
			continue
		}
		if it.AttemptsFor(r.StrategyID) > 0 {
			continue
		}
		if best == nil || r.Tier < best.Tier {
			best = &recs[i]
		}
	}
	return best
}
