package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/actor"
	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/db"
	"github.com/sells-group/fandom-graph/internal/enrich"
	"github.com/sells-group/fandom-graph/internal/extract"
	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/pipeline"
	"github.com/sells-group/fandom-graph/internal/planner"
	"github.com/sells-group/fandom-graph/internal/promptctx"
	"github.com/sells-group/fandom-graph/internal/resilience"
	"github.com/sells-group/fandom-graph/internal/scheduler"
	"github.com/sells-group/fandom-graph/internal/store"
	"github.com/sells-group/fandom-graph/pkg/apify"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "fandom.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// rates overlays the configured pricing on the built-in rates.
func rates() cost.Rates {
	r := cost.DefaultRates()
	if cfg.Pricing.OrchestrationFee > 0 {
		r.OrchestrationFee = cfg.Pricing.OrchestrationFee
	}
	for name, p := range cfg.Pricing.Models {
		r.Models[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return r
}

func initPlanner() (*planner.Planner, *cost.Calculator, error) {
	catalog, err := planner.LoadCatalog(cfg.Planner.ActorCatalogPath)
	if err != nil {
		return nil, nil, err
	}
	calc := cost.NewCalculator(catalog.Rates(rates()))
	return planner.New(catalog, calc), calc, nil
}

func retryConfig() resilience.RetryConfig {
	r := cfg.Resilience
	return resilience.FromSettings(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func initRunner() *actor.Runner {
	client := apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Apify.TimeoutSecs) * time.Second}),
	)

	cbCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.Resilience.FailureThreshold > 0 {
		cbCfg.FailureThreshold = cfg.Resilience.FailureThreshold
	}
	if cfg.Resilience.ResetTimeoutSecs > 0 {
		cbCfg.ResetTimeout = time.Duration(cfg.Resilience.ResetTimeoutSecs) * time.Second
	}

	return actor.NewRunner(client,
		actor.WithRetry(retryConfig()),
		actor.WithBreakers(resilience.NewServiceBreakers(cbCfg)),
		actor.WithRateLimit(cfg.Apify.RequestsPerSecond),
		actor.WithPolling(time.Duration(cfg.Enrich.PollIntervalMs)*time.Millisecond, cfg.Enrich.MaxPolls),
	)
}

func contextOptions() promptctx.Options {
	opts := promptctx.DefaultOptions()
	if cfg.Extract.TokenBudget > 0 {
		opts.TokenBudget = cfg.Extract.TokenBudget
	}
	return opts
}

func initExtractor(ctx context.Context, calc *cost.Calculator) (*extract.Engine, error) {
	clients, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromSettings(cfg.Extract.RetryAttempts, cfg.Extract.RetryBackoffMs,
		cfg.Resilience.MaxBackoffMs, cfg.Resilience.Multiplier, cfg.Resilience.JitterFraction)

	opts := []extract.Option{
		extract.WithModel(clients.TextModel),
		extract.WithMaxOutputTokens(cfg.Extract.MaxOutputTokens),
		extract.WithRetry(retry),
		extract.WithContextOptions(contextOptions()),
		extract.WithSearch(cfg.Extract.EnableSearch),
		extract.WithCalculator(calc),
	}
	if clients.Vision != nil {
		limiter := extract.NewVisionLimiter(time.Duration(cfg.Extract.VisionIntervalMs) * time.Millisecond)
		fetcher := extract.HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
		opts = append(opts, extract.WithVision(extract.NewVisualAnalyzer(
			clients.Vision, clients.VisionModel, fetcher, limiter, cfg.Extract.VisionBatchSize)))
	} else {
		zap.L().Debug("gemini key not set, visual analysis disabled")
	}
	return extract.New(clients.Text, opts...), nil
}

// appEnv holds the wired components used by run, worker and jobs.
type appEnv struct {
	Store     store.Store
	Planner   *planner.Planner
	Calc      *cost.Calculator
	Runner    *actor.Runner
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	Enricher  *enrich.Enricher
}

// Close stops background work and releases the store.
func (e *appEnv) Close() {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}
	if e.Enricher != nil {
		e.Enricher.Executor().Shutdown()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp wires the store, planner, actor runner, extraction engine,
// pipeline, scheduler and enricher. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	env.Planner, env.Calc, err = initPlanner()
	if err != nil {
		env.Close()
		return nil, err
	}

	engine, err := initExtractor(ctx, env.Calc)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Runner = initRunner()
	env.Pipeline = pipeline.New(st, engine,
		pipeline.WithContextOptions(contextOptions()),
		pipeline.WithPlatform(cfg.Planner.Platform),
	)
	env.Scheduler = scheduler.New(st, env.Runner, env.Pipeline, scheduler.Config{
		Tick:           time.Duration(cfg.Scheduler.TickMs) * time.Millisecond,
		MaxStatusPolls: cfg.Scheduler.MaxStatusPolls,
		Platform:       cfg.Planner.Platform,
	})
	env.Enricher = enrich.New(st, env.Runner, nil, enrich.Config{
		ProfileActorID: cfg.Enrich.ProfileActorID,
		MaxHandles:     cfg.Enrich.MaxHandles,
	})
	return env, nil
}
