// Package monitoring collects job health metrics and raises webhook alerts
// when they cross configured thresholds.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

const maxJobsPerSnapshot = 10000

// MetricsSnapshot holds a point-in-time view of job health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsAborted   int     `json:"jobs_aborted"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
	JobsEnriching int     `json:"jobs_enriching"`
	FailRate      float64 `json:"fail_rate"`
	// QuotedSpendUSD sums the plan quotes of completed jobs.
	QuotedSpendUSD float64 `json:"quoted_spend_usd"`
	StepsFailed    int     `json:"steps_failed"`

	// OpenCircuits lists actors whose breaker is open.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the part of the store the collector reads.
type JobLister interface {
	ListJobsSince(ctx context.Context, since time.Time, limit int) ([]model.Job, error)
}

// BreakerSource reports circuit breaker states. *resilience.ServiceBreakers
// satisfies it.
type BreakerSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers metrics from the store and the actor breakers.
type Collector struct {
	jobs     JobLister
	breakers BreakerSource
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(jobs JobLister, breakers BreakerSource) *Collector {
	return &Collector{jobs: jobs, breakers: breakers}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}

	jobs, err := c.jobs.ListJobsSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour), maxJobsPerSnapshot)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
			if j.Metadata.Plan != nil {
				snap.QuotedSpendUSD += j.Metadata.Plan.Quote.Total
			}
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusAborted:
			snap.JobsAborted++
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusRunning:
			snap.JobsRunning++
		}
		if j.Metadata.IsEnriching {
			snap.JobsEnriching++
		}
		for _, sr := range j.Metadata.Steps {
			if sr.Status == model.StepStatusFailed {
				snap.StepsFailed++
			}
		}
	}

	// Aborted jobs are a user decision, not a failure.
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == resilience.CircuitOpen {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}
	return snap, nil
}
