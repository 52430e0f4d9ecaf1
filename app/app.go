// Package app assembles the engine from configuration. Both binaries use it
// so the API server and the operator CLI run identical wiring.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"disputeflow/completion"
	"disputeflow/config"
	"disputeflow/consumer"
	"disputeflow/db"
	"disputeflow/directory"
	"disputeflow/dispute"
	"disputeflow/followup"
	"disputeflow/item"
	"disputeflow/letter"
	"disputeflow/notify"
	"disputeflow/orchestrator"
	"disputeflow/plan"
	"disputeflow/priority"
	"disputeflow/strategy"
)

// Engine holds the components that need no database.
type Engine struct {
	Catalog   *strategy.Catalog
	Selector  *strategy.Selector
	Directory *directory.Directory
	Letters   *letter.Engine
	Scorer    *priority.Scorer
	Builder   *plan.Builder
}

// NewEngine loads the catalog (built-in, or the override file when
// configured) and builds the letter engine with optional enhancement.
func NewEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Engine, error) {
	catalog := strategy.Default()
	if cfg.StrategyCatalogFile != "" {
		var err error
		catalog, err = strategy.LoadCatalogFile(cfg.StrategyCatalogFile)
		if err != nil {
			return nil, err
		}
		logger.Info("strategy catalog loaded", zap.String("file", cfg.StrategyCatalogFile), zap.Int("strategies", catalog.Len()))
	}

	dir := directory.Default()
	engine := letter.NewEngine(dir).WithResponseWindow(cfg.FollowUp.ResponseWindowDays)
	client, err := completion.New(ctx, cfg.CompletionSettings())
	if err != nil {
		return nil, fmt.Errorf("app: completion client: %w", err)
	}
	if client != nil {
		fallback := letter.WithFallback(letter.FromCompletion(client), cfg.Completion.Timeout).WithLogger(logger)
		engine = engine.WithEnhancement(fallback)
		logger.Info("letter enhancement enabled", zap.String("provider", cfg.Completion.Provider))
	}

	return &Engine{
		Catalog:   catalog,
		Selector:  strategy.NewSelector(catalog),
		Directory: dir,
		Letters:   engine,
		Scorer:    priority.NewScorer(cfg.PlannerMaxItems),
		Builder:   plan.NewBuilder(catalog),
	}, nil
}

// Planner returns a planner over reader. reader may be nil for callers that
// only use Analyze and PreviewItem.
func (e *Engine) Planner(reader item.Reader, profiles orchestrator.ProfileSource, logger *zap.Logger) *orchestrator.Planner {
	return orchestrator.NewPlanner(orchestrator.Dependencies{
		Items:     reader,
		Scorer:    e.Scorer,
		Selector:  e.Selector,
		Builder:   e.Builder,
		Engine:    e.Letters,
		Directory: e.Directory,
		Profiles:  profiles,
	}).WithLogger(logger)
}

// App is the fully wired, database-backed engine.
type App struct {
	*Engine
	Config     config.Config
	Pool       *pgxpool.Pool
	Items      *item.Service
	Consumers  *consumer.Service
	Controller *dispute.Controller
	Planner    *orchestrator.Planner
	Runner     *followup.Runner
	Relay      *notify.Relay
	Logger     *zap.Logger
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	engine, err := NewEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	a, err := Wire(engine, cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the database-backed services over an already opened pool.
// The returned App owns pool.
func Wire(engine *Engine, cfg config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	itemRepo := item.NewRepository(pool)
	consumers := consumer.NewService(consumer.NewRepository(pool))
	controller, err := dispute.NewController(dispute.Dependencies{
		Pool:      pool,
		Repo:      dispute.NewRepository(pool),
		Items:     itemRepo,
		Letters:   letter.NewRepository(pool),
		Engine:    engine.Letters,
		Selector:  engine.Selector,
		Directory: engine.Directory,
		Profiles:  consumers,
		Sink:      notify.NewOutboxSink(),
	}).WithSchedule(cfg.Schedule())
	if err != nil {
		return nil, err
	}
	controller = controller.WithLogger(logger.Named("dispute"))

	return &App{
		Engine:     engine,
		Config:     cfg,
		Pool:       pool,
		Items:      item.NewService(pool, itemRepo),
		Consumers:  consumers,
		Controller: controller,
		Planner:    engine.Planner(itemRepo, consumers, logger.Named("planner")),
		Runner: followup.NewRunner(controller).
			WithWorkers(cfg.FollowUp.Workers).
			WithPollInterval(cfg.FollowUp.PollInterval).
			WithLogger(logger.Named("followup")),
		Relay:  notify.NewRelay(pool, notify.NewStore(), notify.NewLogDeliverer(logger.Named("notify"))).WithLogger(logger.Named("relay")),
		Logger: logger,
	}, nil
}

func (a *App) Close() {
	a.Pool.Close()
}
