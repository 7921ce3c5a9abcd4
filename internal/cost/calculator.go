// Package cost prices scrape plans and LLM usage.
package cost

import (
	"math"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

// Reference sizes the actor prices are quoted against.
const (
	BaseSampleSize = 100
	BasePostLimit  = 10
)

// Rates holds pricing configuration.
type Rates struct {
	// Actors is keyed by actor id and priced per 1000 output records.
	Actors map[string]float64 `yaml:"actors" mapstructure:"actors"`
	// Kinds is the fallback per-1000 price for actors missing from Actors.
	Kinds            map[model.ActorKind]float64 `yaml:"kinds" mapstructure:"kinds"`
	OrchestrationFee float64                     `yaml:"orchestration_fee" mapstructure:"orchestration_fee"`
	Models           map[string]ModelRate        `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs. It holds no mutable state.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// OrchestrationFee returns the flat fee charged per executed plan.
func (c *Calculator) OrchestrationFee() float64 {
	return c.rates.OrchestrationFee
}

// LLM computes the cost of a model call.
func (c *Calculator) LLM(modelName string, input, output int) float64 {
	rate, ok := c.rates.Models[modelName]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// FanoutLimit is the number of followed accounts sampled per source profile.
func FanoutLimit(sampleSize int) int {
	switch {
	case sampleSize <= 100:
		return 20
	case sampleSize <= 500:
		return 10
	default:
		return 3
	}
}

// EstimateRecords predicts how many records a step of the given kind yields.
// Profile-level steps scale with the sample ratio only; post steps with
// sample ratio times depth ratio.
func EstimateRecords(kind model.ActorKind, targets, sampleSize, postLimit int) int {
	if targets < 1 {
		targets = 1
	}
	sampleRatio := float64(sampleSize) / BaseSampleSize
	depthRatio := float64(postLimit) / BasePostLimit

	var n float64
	switch kind {
	case model.ActorKindFollowers, model.ActorKindProfile:
		n = BaseSampleSize * sampleRatio * float64(targets)
	case model.ActorKindPosts:
		n = BaseSampleSize * BasePostLimit * sampleRatio * depthRatio * float64(targets)
	case model.ActorKindFollowing:
		n = BaseSampleSize * sampleRatio * float64(targets) * float64(FanoutLimit(sampleSize))
	case model.ActorKindSearch, model.ActorKindHashtag:
		n = BaseSampleSize * sampleRatio
	}
	return int(math.Ceil(n))
}

// StepCost prices a step by its actor id, falling back to the kind's price.
func (c *Calculator) StepCost(step model.PlanStep, records int) float64 {
	if step.Cached {
		return 0
	}
	price, ok := c.rates.Actors[step.ActorID]
	if !ok {
		price = c.rates.Kinds[step.Kind]
	}
	return round2(float64(records) / 1000 * price)
}

// Quote returns a re-priced copy of plan for the given sample size and post
// limit. The input plan is not modified.
func (c *Calculator) Quote(plan *model.Plan, sampleSize, postLimit int) *model.Plan {
	out := plan.Clone()
	targets := len(out.Targets)

	var scrape float64
	for i := range out.Steps {
		s := &out.Steps[i]
		s.EstimatedRecords = EstimateRecords(s.Kind, targets, sampleSize, postLimit)
		s.EstimatedCost = c.StepCost(*s, s.EstimatedRecords)
		scrape += s.EstimatedCost
	}

	fee := c.rates.OrchestrationFee
	if out.FullCacheHit() {
		fee = 0
	}
	out.Quote = model.Quote{
		ScrapeCost:       round2(scrape),
		OrchestrationFee: fee,
		Total:            round2(scrape + fee),
	}
	return out
}

// EnsureAffordable returns a QuotaError when total exceeds a positive budget.
func EnsureAffordable(total, budget float64) error {
	if budget <= 0 || total <= budget {
		return nil
	}
	return &resilience.QuotaError{Required: total, Available: budget}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DefaultRates returns the built-in pricing.
func DefaultRates() Rates {
	return Rates{
		Kinds: map[model.ActorKind]float64{
			model.ActorKindFollowers: 0.50,
			model.ActorKindFollowing: 0.50,
			model.ActorKindProfile:   2.60,
			model.ActorKindPosts:     2.30,
			model.ActorKindSearch:    2.60,
			model.ActorKindHashtag:   2.30,
		},
		OrchestrationFee: 0.50,
		Models: map[string]ModelRate{
			"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		},
	}
}
