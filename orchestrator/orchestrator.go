// Package orchestrator is the planning facade: it ranks an owner's items,
// selects strategies for each and turns the result into an action plan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disputeflow/consumer"
	"disputeflow/directory"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/plan"
	"disputeflow/priority"
	"disputeflow/strategy"
)

const (
	DefaultConcurrency = 4
	DefaultReadRetries = 3
)

var ErrNoOwner = errors.New("orchestrator: owner id is required")

// ProfileSource supplies the consumer profile for letter previews.
type ProfileSource interface {
	GetByID(ctx context.Context, id string) (consumer.Profile, error)
}

// Analysis is the outcome of one planning pass.
type Analysis struct {
	OwnerID         string                    `json:"owner_id" yaml:"owner_id"`
	AsOf            time.Time                 `json:"as_of" yaml:"as_of"`
	Ranked          []RankedItem              `json:"ranked" yaml:"ranked"`
	Recommendations []strategy.Recommendation `json:"recommendations" yaml:"recommendations"`
	Steps           []plan.Step               `json:"steps" yaml:"steps"`
}

type RankedItem struct {
	ItemID       string  `json:"item_id" yaml:"item_id"`
	CreditorName string  `json:"creditor_name" yaml:"creditor_name"`
	Score        float64 `json:"score" yaml:"score"`
}

type Dependencies struct {
	Items     item.Reader
	Scorer    *priority.Scorer
	Selector  *strategy.Selector
	Builder   *plan.Builder
	Engine    *letter.Engine
	Directory *directory.Directory
	Profiles  ProfileSource
}

type Planner struct {
	items       item.Reader
	scorer      *priority.Scorer
	selector    *strategy.Selector
	builder     *plan.Builder
	engine      *letter.Engine
	directory   *directory.Directory
	profiles    ProfileSource
	concurrency int
	retries     uint64
	newBackOff  func() backoff.BackOff
	logger      *zap.Logger
	now         func() time.Time
}

func NewPlanner(d Dependencies) *Planner {
	p := &Planner{
		items:       d.Items,
		scorer:      d.Scorer,
		selector:    d.Selector,
		builder:     d.Builder,
		engine:      d.Engine,
		directory:   d.Directory,
		profiles:    d.Profiles,
		concurrency: DefaultConcurrency,
		retries:     DefaultReadRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	if p.scorer == nil {
		p.scorer = priority.NewScorer(0)
	}
	if p.selector == nil {
		p.selector = strategy.NewSelector(strategy.Default())
	}
	if p.builder == nil {
		p.builder = plan.NewBuilder(p.selector.Catalog())
	}
	if p.directory == nil {
		p.directory = directory.Default()
	}
	if p.engine == nil {
		p.engine = letter.NewEngine(p.directory)
	}
	return p
}

func (p *Planner) WithConcurrency(n int) *Planner {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

// WithBackOff replaces the retry policy for store reads. Tests pass
// backoff.ZeroBackOff to avoid sleeping.
func (p *Planner) WithBackOff(newBackOff func() backoff.BackOff, retries uint64) *Planner {
	p.newBackOff = newBackOff
	p.retries = retries
	return p
}

func (p *Planner) WithLogger(logger *zap.Logger) *Planner {
	if logger != nil {
		p.logger = logger
	}
	return p
}

func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Recommend loads the owner's items and plans them.
func (p *Planner) Recommend(ctx context.Context, ownerID string) (Analysis, error) {
	if ownerID == "" {
		return Analysis{}, ErrNoOwner
	}
	var items []item.CreditItem
	err := p.read(ctx, "list items", func() error {
		var err error
		items, err = p.items.List(ctx, item.Filters{OwnerID: ownerID})
		return err
	})
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := p.Analyze(ctx, items)
	if err != nil {
		return Analysis{}, err
	}
	analysis.OwnerID = ownerID
	return analysis, nil
}

// Analyze plans items that are already in memory. Items are ranked, every
// ranked item is evaluated concurrently, and the recommendations are merged
// back in rank order before the stable expected-value sort.
func (p *Planner) Analyze(ctx context.Context, items []item.CreditItem) (Analysis, error) {
	asOf := p.now()
	ranked := p.scorer.Rank(items, priority.AnalysisContext{AsOf: asOf}, 0)

	var prior []item.Attempt
	for _, it := range items {
		prior = append(prior, it.History...)
	}

	perItem := make([][]strategy.Recommendation, len(ranked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, r := range ranked {
		i, it := i, r.Item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perItem[i] = untried(it, p.selector.SelectAt(it, prior, asOf))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Analysis{}, err
	}

	analysis := Analysis{AsOf: asOf, Ranked: make([]RankedItem, 0, len(ranked))}
	for i, r := range ranked {
		analysis.Ranked = append(analysis.Ranked, RankedItem{
			ItemID:       r.Item.ID,
			CreditorName: r.Item.CreditorName,
			Score:        r.Score,
		})
		analysis.Recommendations = append(analysis.Recommendations, perItem[i]...)
	}
	strategy.SortByExpectedValue(analysis.Recommendations)

	steps, err := p.builder.Build(analysis.Recommendations, items)
	if err != nil {
		return Analysis{}, fmt.Errorf("orchestrator: build plan: %w", err)
	}
	analysis.Steps = steps

	p.logger.Info("plan built",
		zap.Int("items", len(items)),
		zap.Int("ranked", len(ranked)),
		zap.Int("recommendations", len(analysis.Recommendations)),
		zap.Int("steps", len(steps)),
	)
	return analysis, nil
}

// untried drops strategies already attempted on it. An attempt means a
// completed execution, and that pair cannot be opened again.
func untried(it item.CreditItem, recs []strategy.Recommendation) []strategy.Recommendation {
	out := recs[:0]
	for _, r := range recs {
		if it.AttemptsFor(r.StrategyID) == 0 {
			out = append(out, r)
		}
	}
	return out
}

// Preview renders the letter for an (item, strategy) pair without opening
// an execution.
func (p *Planner) Preview(ctx context.Context, itemID, strategyID string) (letter.Rendered, error) {
	var it item.CreditItem
	err := p.read(ctx, "get item", func() error {
		var err error
		it, err = p.items.Get(ctx, itemID)
		return err
	})
	if err != nil {
		return letter.Rendered{}, err
	}
	return p.PreviewItem(ctx, it, strategyID)
}

// PreviewItem is Preview for an item the caller already holds.
func (p *Planner) PreviewItem(ctx context.Context, it item.CreditItem, strategyID string) (letter.Rendered, error) {
	if it.Status == item.StatusResolved {
		return letter.Rendered{}, item.ErrResolved
	}
	rec, err := p.selector.CheckAt(it, it.History, strategyID, p.now())
	if err != nil {
		return letter.Rendered{}, err
	}
	st, err := p.selector.Catalog().Get(rec.StrategyID)
	if err != nil {
		return letter.Rendered{}, err
	}
	recipient, err := p.directory.Resolve(st.Recipient, it)
	if err != nil {
		return letter.Rendered{}, err
	}
	var profile consumer.Profile
	if p.profiles != nil {
		err := p.read(ctx, "get profile", func() error {
			var err error
			profile, err = p.profiles.GetByID(ctx, it.OwnerID)
			return err
		})
		if err != nil {
			return letter.Rendered{}, err
		}
	}
	return p.engine.Render(ctx, st.ID, letter.Input{
		Item:      it,
		Strategy:  st,
		Consumer:  profile,
		Recipient: recipient,
	})
}

// read retries an idempotent store read. Not-found errors are final.
func (p *Planner) read(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.retries), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, item.ErrNotFound), errors.Is(err, consumer.ErrNotFound),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return backoff.Permanent(err)
		}
		p.logger.Warn("store read failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, policy)
}
