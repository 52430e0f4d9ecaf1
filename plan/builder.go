// Package plan turns strategy recommendations into an ordered, dependency
// aware list of action steps.
package plan

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"disputeflow/item"
	"disputeflow/strategy"
)

var ErrCyclicPlan = errors.New("plan: dependency cycle")

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

const (
	highThreshold   = 80
	mediumThreshold = 50
)

var priorityRank = map[Priority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

var rankPriority = [...]Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Step is one action in a plan: a strategy applied to a set of items.
type Step struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	StrategyID   string   `json:"strategy_id" yaml:"strategy_id"`
	Tier         int      `json:"tier" yaml:"tier"`
	ItemIDs      []string `json:"item_ids" yaml:"item_ids"`
	Priority     Priority `json:"priority" yaml:"priority"`
	Score        float64  `json:"score" yaml:"score"`
	DurationDays int      `json:"duration_days" yaml:"duration_days"`
	Duration     string   `json:"duration" yaml:"duration"`
	SuccessRate  float64  `json:"success_rate" yaml:"success_rate"`
	DependsOn    []string `json:"depends_on" yaml:"depends_on"`
}

// Builder groups recommendations into steps. The catalog supplies the
// Follows edges between strategies.
type Builder struct {
	catalog *strategy.Catalog
}

func NewBuilder(catalog *strategy.Catalog) *Builder {
	return &Builder{catalog: catalog}
}

type group struct {
	step    Step
	name    string
	rank    int
	deps    []int
	itemSet map[string]bool
	probSum float64
	probN   int
}

// Build returns the plan for recs. Recommendations for items that are
// resolved, or absent from items when items is non-empty, are ignored.
// Steps are ordered by priority bucket with every dependency placed strictly
// before its dependents.
func (b *Builder) Build(recs []strategy.Recommendation, items []item.CreditItem) ([]Step, error) {
	known := make(map[string]item.CreditItem, len(items))
	for _, it := range items {
		known[it.ID] = it
	}

	var groups []*group
	byStrategy := make(map[string]int)
	for _, rec := range recs {
		if len(known) > 0 {
			it, ok := known[rec.ItemID]
			if !ok || it.Status == item.StatusResolved {
				continue
			}
		}
		idx, ok := byStrategy[rec.StrategyID]
		if !ok {
			idx = len(groups)
			byStrategy[rec.StrategyID] = idx
			groups = append(groups, &group{
				step:    Step{StrategyID: rec.StrategyID, Tier: rec.Tier},
				name:    rec.StrategyName,
				itemSet: make(map[string]bool),
			})
		}
		g := groups[idx]
		if g.itemSet[rec.ItemID] {
			continue
		}
		g.itemSet[rec.ItemID] = true
		g.step.ItemIDs = append(g.step.ItemIDs, rec.ItemID)
		g.probSum += rec.SuccessProbability
		g.probN++
	}

	for _, g := range groups {
		finishGroup(g)
	}

	for i, g := range groups {
		st, err := b.catalog.Get(g.step.StrategyID)
		if err != nil {
			continue
		}
		for _, dep := range st.Follows {
			if j, ok := byStrategy[dep]; ok && j != i {
				g.deps = append(g.deps, j)
			}
		}
	}

	inheritBuckets(groups)

	order, err := topoOrder(groups)
	if err != nil {
		return nil, err
	}

	position := make([]int, len(groups))
	for pos, gi := range order {
		position[gi] = pos
	}
	steps := make([]Step, 0, len(order))
	for pos, gi := range order {
		g := groups[gi]
		s := g.step
		s.ID = stepID(pos)
		s.Priority = rankPriority[g.rank]
		for _, dep := range sortedByPosition(g.deps, position) {
			s.DependsOn = append(s.DependsOn, stepID(position[dep]))
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func finishGroup(g *group) {
	n := len(g.step.ItemIDs)
	avg := g.probSum / float64(g.probN)
	g.step.SuccessRate = math.Round(avg*10000) / 10000
	g.step.Score = math.Round((avg*100+float64(6-g.step.Tier)*10+float64(n)*5)*100) / 100
	switch {
	case g.step.Score >= highThreshold:
		g.rank = priorityRank[PriorityHigh]
	case g.step.Score >= mediumThreshold:
		g.rank = priorityRank[PriorityMedium]
	default:
		g.rank = priorityRank[PriorityLow]
	}
	g.step.DurationDays = strategy.EstimateDays(g.step.Tier, n)
	g.step.Duration = strategy.DurationBucket(g.step.DurationDays)

	name := g.name
	if name == "" {
		name = g.step.StrategyID
	}
	noun := "items"
	if n == 1 {
		noun = "item"
	}
	g.step.Title = fmt.Sprintf("%s for %d %s", name, n, noun)
}

// inheritBuckets lifts every prerequisite into the most urgent bucket of its
// dependents, transitively. Ranks only decrease, so this terminates even on
// cyclic input; the cycle is reported by topoOrder.
func inheritBuckets(groups []*group) {
	for changed := true; changed; {
		changed = false
		for _, g := range groups {
			for _, d := range g.deps {
				if groups[d].rank > g.rank {
					groups[d].rank = g.rank
					changed = true
				}
			}
		}
	}
}

// topoOrder is Kahn's algorithm that always emits the ready group with the
// most urgent bucket, then the earliest grouping position.
func topoOrder(groups []*group) ([]int, error) {
	indegree := make([]int, len(groups))
	dependents := make([][]int, len(groups))
	for i, g := range groups {
		indegree[i] = len(g.deps)
		for _, d := range g.deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	emitted := make([]bool, len(groups))
	order := make([]int, 0, len(groups))
	for len(order) < len(groups) {
		next := -1
		for i := range groups {
			if emitted[i] || indegree[i] > 0 {
				continue
			}
			if next == -1 || groups[i].rank < groups[next].rank {
				next = i
			}
		}
		if next == -1 {
			return nil, ErrCyclicPlan
		}
		emitted[next] = true
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order, nil
}

func sortedByPosition(deps []int, position []int) []int {
	out := append([]int(nil), deps...)
	sort.Slice(out, func(i, j int) bool { return position[out[i]] < position[out[j]] })
	return out
}

func stepID(pos int) string {
	return fmt.Sprintf("step-%d", pos+1)
}

// Verify checks the ordering contract of a plan: every dependency appears
// strictly earlier and buckets never become more urgent along the sequence.
func Verify(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	prevRank := 0
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("plan: step %s depends on %s which is not earlier", s.ID, dep)
			}
		}
		rank, ok := priorityRank[s.Priority]
		if !ok {
			return fmt.Errorf("plan: step %s has unknown priority %q", s.ID, s.Priority)
		}
		if i > 0 && rank < prevRank {
			return fmt.Errorf("plan: step %s (%s) follows a less urgent step", s.ID, s.Priority)
		}
		prevRank = rank
		seen[s.ID] = true
	}
	return nil
}
