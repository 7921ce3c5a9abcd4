package apify

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 15
)

// ErrPollLimit is returned when a run is still active after the poll budget.
var ErrPollLimit = eris.New("apify: poll limit reached")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval time.Duration
	maxPolls int
}

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithMaxPolls overrides the number of status checks before giving up.
func WithMaxPolls(n int) PollOption {
	return func(c *pollConfig) {
		c.maxPolls = n
	}
}

// PollRun checks GetRun at a fixed interval until the run reaches a terminal
// status or the poll budget is spent. A terminal run is returned without
// error even when it failed; callers inspect Status.
func PollRun(ctx context.Context, client Client, runID string, opts ...PollOption) (*Run, error) {
	cfg := pollConfig{interval: defaultPollInterval, maxPolls: defaultMaxPolls}
	for _, opt := range opts {
		opt(&cfg)
	}

	for poll := 1; ; poll++ {
		run, err := client.GetRun(ctx, runID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("apify: poll run %s", runID))
		}
		if run.Terminal() {
			return run, nil
		}
		if poll >= cfg.maxPolls {
			return run, eris.Wrap(ErrPollLimit, fmt.Sprintf("apify: run %s still %s after %d polls", runID, run.Status, poll))
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("apify: poll run %s cancelled", runID))
		case <-time.After(cfg.interval):
		}
	}
}
