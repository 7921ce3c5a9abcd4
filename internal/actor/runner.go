// Package actor runs scrape actors on the actor service with pacing, retries
// and a per-actor circuit breaker.
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fandom-graph/internal/resilience"
	"github.com/sells-group/fandom-graph/pkg/apify"
)

// Runner wraps an apify.Client.
type Runner struct {
	client       apify.Client
	limiter      *AdaptiveLimiter
	breakers     *resilience.ServiceBreakers
	retry        resilience.RetryConfig
	pollInterval time.Duration
	maxPolls     int
	runOpts      apify.RunOptions
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetry sets the retry policy for individual API calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = cfg }
}

// WithBreakers shares a breaker registry.
func WithBreakers(b *resilience.ServiceBreakers) Option {
	return func(r *Runner) { r.breakers = b }
}

// WithRateLimit paces calls at rps requests per second; 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(r *Runner) { r.limiter = NewAdaptiveLimiter(rate.Limit(rps), 1) }
}

// WithPolling sets the synchronous-run poll interval and budget.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(r *Runner) {
		r.pollInterval = interval
		r.maxPolls = maxPolls
	}
}

// WithRunOptions sets the options passed to every StartRun.
func WithRunOptions(o apify.RunOptions) Option {
	return func(r *Runner) { r.runOpts = o }
}

// NewRunner builds a Runner with default pacing disabled.
func NewRunner(client apify.Client, opts ...Option) *Runner {
	r := &Runner{
		client:       client,
		limiter:      NewAdaptiveLimiter(0, 1),
		breakers:     resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		retry:        resilience.DefaultRetryConfig(),
		pollInterval: 2 * time.Second,
		maxPolls:     15,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxPolls returns the configured poll budget.
func (r *Runner) MaxPolls() int { return r.maxPolls }

// Start launches actorID with input.
func (r *Runner) Start(ctx context.Context, actorID string, input map[string]any) (*apify.Run, error) {
	run, err := call(ctx, r, actorID, "start", func(ctx context.Context) (*apify.Run, error) {
		return r.client.StartRun(ctx, actorID, input, r.runOpts)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "actor: start %s", actorID)
	}
	return run, nil
}

// Status fetches the current state of a run.
func (r *Runner) Status(ctx context.Context, actorID, runID string) (*apify.Run, error) {
	run, err := call(ctx, r, actorID, "status", func(ctx context.Context) (*apify.Run, error) {
		return r.client.GetRun(ctx, runID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "actor: status %s", runID)
	}
	return run, nil
}

// Items fetches the records of a run's dataset.
func (r *Runner) Items(ctx context.Context, actorID, datasetID string) ([]json.RawMessage, error) {
	items, err := call(ctx, r, actorID, "items", func(ctx context.Context) ([]json.RawMessage, error) {
		return r.client.GetDatasetItems(ctx, datasetID, 0)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "actor: items %s", datasetID)
	}
	return items, nil
}

// Abort asks the service to stop a run. Errors are returned but the caller
// normally treats abort as best effort.
func (r *Runner) Abort(ctx context.Context, runID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "actor: abort wait")
	}
	if _, err := r.client.AbortRun(ctx, runID); err != nil {
		return eris.Wrapf(err, "actor: abort %s", runID)
	}
	return nil
}

// RunSync starts an actor, waits for it with bounded polling and returns its
// records. A run still active after the budget is aborted.
func (r *Runner) RunSync(ctx context.Context, actorID string, input map[string]any) ([]json.RawMessage, error) {
	run, err := r.Start(ctx, actorID, input)
	if err != nil {
		return nil, err
	}

	if !run.Terminal() {
		run, err = apify.PollRun(ctx, guardedStatus{Client: r.client, r: r, actorID: actorID}, run.ID,
			apify.WithPollInterval(r.pollInterval), apify.WithMaxPolls(r.maxPolls))
		if errors.Is(err, apify.ErrPollLimit) {
			if abortErr := r.Abort(context.WithoutCancel(ctx), run.ID); abortErr != nil {
				zap.L().Debug("actor: abort after poll limit failed", zap.Error(abortErr))
			}
		}
		if err != nil {
			return nil, eris.Wrapf(err, "actor: %s", actorID)
		}
	}

	if !run.Succeeded() {
		return nil, eris.Errorf("actor: %s run %s finished %s", actorID, run.ID, run.Status)
	}
	return r.Items(ctx, actorID, run.DefaultDatasetID)
}

// guardedStatus routes PollRun's status checks through the runner so they are
// paced, retried and counted by the actor's breaker.
type guardedStatus struct {
	apify.Client
	r       *Runner
	actorID string
}

func (g guardedStatus) GetRun(ctx context.Context, runID string) (*apify.Run, error) {
	return g.r.Status(ctx, g.actorID, runID)
}

// call paces, retries and guards a single API call.
func call[T any](ctx context.Context, r *Runner, actorID, op string, fn func(context.Context) (T, error)) (T, error) {
	cb := r.breakers.Get("apify:" + actorID)
	cfg := r.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("apify", op)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (T, error) {
			var zero T
			if err := r.limiter.Wait(ctx); err != nil {
				return zero, err
			}
			val, err := fn(ctx)
			if err != nil {
				return zero, r.classify(err)
			}
			r.limiter.OnSuccess()
			return val, nil
		})
	})
}

func (r *Runner) classify(err error) error {
	var apiErr *apify.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		r.limiter.OnRateLimit()
	}
	if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

// Breakers returns the per-actor circuit breakers.
func (r *Runner) Breakers() *resilience.ServiceBreakers { return r.breakers }
