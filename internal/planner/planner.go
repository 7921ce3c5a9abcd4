// Package planner turns a free-text query into a priced scrape plan.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
)

// Request is the input to Plan.
type Request struct {
	Query            string          `validate:"required,min=2"`
	SampleSize       int             `validate:"gte=1,lte=10000"`
	PostLimit        int             `validate:"gte=0,lte=200"`
	ExistingDatasets []model.Dataset `validate:"-"`
	IgnoreCache      bool
	UseDeepAnalysis  bool
	// SeedContext is free text whose @handles are added as extra targets.
	SeedContext string
}

// Planner builds plans from a catalog and prices them with a calculator.
type Planner struct {
	catalog *Catalog
	calc    *cost.Calculator
}

// New creates a Planner. A nil catalog uses DefaultCatalog; a nil calculator
// uses the default rates overlaid with the catalog's prices.
func New(catalog *Catalog, calc *cost.Calculator) *Planner {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if calc == nil {
		calc = cost.NewCalculator(catalog.Rates(cost.DefaultRates()))
	}
	return &Planner{catalog: catalog, calc: calc}
}

var (
	handlePattern  = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9._]{1,30})`)
	hashtagPattern = regexp.MustCompile(`(?:^|[^\w#])#([\p{L}\p{N}_]{1,100})`)
)

// DetectIntent classifies a query and extracts its targets. Handles win over
// hashtags; a query with neither is a topic search.
func DetectIntent(query, seedContext string) (model.Intent, []string, []string) {
	handles := extract(handlePattern, query)
	for _, h := range extract(handlePattern, seedContext) {
		if !contains(handles, h) {
			handles = append(handles, h)
		}
	}
	tags := extract(hashtagPattern, query)

	switch {
	case len(handles) >= 2:
		return model.IntentComparisonMap, handles, tags
	case len(handles) == 1:
		return model.IntentFandomMap, handles, tags
	case len(tags) > 0:
		return model.IntentHashtagMap, nil, tags
	default:
		return model.IntentTopicDiscovery, nil, nil
	}
}

func extract(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v := strings.TrimRight(graph.NormalizeID(m[1]), ".")
		if v != "" && !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Plan validates req and returns a priced plan.
func (p *Planner) Plan(ctx context.Context, req Request) (*model.Plan, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "planner: plan")
	}
	req.Query = strings.TrimSpace(req.Query)

	intent, targets, tags := DetectIntent(req.Query, req.SeedContext)
	plan := &model.Plan{Intent: intent, Query: req.Query, Targets: targets}

	var err error
	switch intent {
	case model.IntentFandomMap, model.IntentComparisonMap:
		err = p.audienceSteps(plan, req)
	case model.IntentHashtagMap:
		err = p.seededSteps(plan, req, model.ActorKindHashtag, tags)
	default:
		err = p.seededSteps(plan, req, model.ActorKindSearch, req.Query)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, eris.Wrap(err, "planner: invalid plan")
	}

	reuse := "no reusable dataset"
	if !req.IgnoreCache {
		if ds, full, ok := FindReusable(req.ExistingDatasets, targets, req.SampleSize, req.PostLimit); ok {
			applyReuse(plan, ds, full)
			reuse = fmt.Sprintf("reusing dataset %s (full=%t)", ds.ID, full)
		}
	} else {
		reuse = "cache ignored"
	}

	quoted := p.calc.Quote(plan, req.SampleSize, req.PostLimit)
	quoted.Reasoning = reasoning(quoted, req, reuse)

	zap.L().Info("planner: plan built",
		zap.String("intent", string(quoted.Intent)),
		zap.Strings("targets", quoted.Targets),
		zap.Int("steps", len(quoted.Steps)),
		zap.Float64("total", quoted.Quote.Total),
		zap.Bool("full_cache_hit", quoted.FullCacheHit()),
	)
	return quoted, nil
}

// Quote re-prices plan for new sizes. The input plan is not modified.
func (p *Planner) Quote(plan *model.Plan, sampleSize, postLimit int) *model.Plan {
	return p.calc.Quote(plan, sampleSize, postLimit)
}

// audienceSteps plans followers -> profiles -> posts -> following.
func (p *Planner) audienceSteps(plan *model.Plan, req Request) error {
	placeholder := model.PlaceholderPrefix + "step_1"

	if err := p.addStep(plan, "step_1", model.ActorKindFollowers,
		"Sample followers of "+atList(plan.Targets), toAny(plan.Targets), req.SampleSize); err != nil {
		return err
	}
	profiles := append([]any{placeholder}, toAny(plan.Targets)...)
	if err := p.addStep(plan, "step_2", model.ActorKindProfile,
		"Scrape profiles of the sampled followers and the targets", profiles, 0); err != nil {
		return err
	}
	if req.PostLimit > 0 {
		if err := p.addStep(plan, "step_3", model.ActorKindPosts,
			fmt.Sprintf("Fetch up to %d recent posts per sampled follower", req.PostLimit), placeholder, req.PostLimit); err != nil {
			return err
		}
	}
	if req.UseDeepAnalysis {
		if err := p.addStep(plan, "step_4", model.ActorKindFollowing,
			"Fetch accounts the sampled followers follow", placeholder, cost.FanoutLimit(req.SampleSize)); err != nil {
			return err
		}
	}
	return nil
}

// seededSteps plans a hashtag or search seed followed by profiles and posts
// of the accounts it surfaces.
func (p *Planner) seededSteps(plan *model.Plan, req Request, seed model.ActorKind, value any) error {
	desc := "Search for accounts matching the query"
	if seed == model.ActorKindHashtag {
		desc = "Collect recent posts for the hashtags"
	}
	if err := p.addStep(plan, "step_1", seed, desc, value, req.SampleSize); err != nil {
		return err
	}
	placeholder := model.PlaceholderPrefix + "step_1"
	if err := p.addStep(plan, "step_2", model.ActorKindProfile,
		"Scrape profiles of the surfaced accounts", placeholder, 0); err != nil {
		return err
	}
	if req.PostLimit > 0 {
		if err := p.addStep(plan, "step_3", model.ActorKindPosts,
			fmt.Sprintf("Fetch up to %d recent posts per account", req.PostLimit), placeholder, req.PostLimit); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) addStep(plan *model.Plan, id string, kind model.ActorKind, desc string, value any, limit int) error {
	spec, ok := p.catalog.Actor(kind)
	if !ok {
		return eris.Errorf("planner: no actor configured for %s steps", kind)
	}
	input := make(map[string]any, len(spec.Extra)+2)
	for k, v := range spec.Extra {
		input[k] = v
	}
	input[spec.InputKey] = value
	if spec.LimitKey != "" && limit > 0 {
		input[spec.LimitKey] = limit
	}
	plan.Steps = append(plan.Steps, model.PlanStep{
		StepID:      id,
		ActorID:     spec.ID,
		Kind:        kind,
		Description: desc,
		Input:       input,
	})
	return nil
}

// TargetKey is the canonical dataset key for a target set.
func TargetKey(targets []string) string {
	norm := make([]string, 0, len(targets))
	for _, t := range targets {
		if n := graph.NormalizeID(t); n != "" {
			norm = append(norm, n)
		}
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}

// FindReusable picks the newest dataset for the same targets that covers the
// sample size. full reports whether it also covers the post depth.
func FindReusable(existing []model.Dataset, targets []string, sampleSize, postLimit int) (model.Dataset, bool, bool) {
	key := TargetKey(targets)
	if key == "" {
		return model.Dataset{}, false, false
	}
	var (
		best     model.Dataset
		bestFull bool
		found    bool
	)
	for _, ds := range existing {
		if TargetKey(strings.Split(ds.TargetHandle, ",")) != key || ds.RecordCount < sampleSize {
			continue
		}
		full := ds.PostLimit >= postLimit
		switch {
		case !found,
			full && !bestFull,
			full == bestFull && ds.CreatedAt.After(best.CreatedAt):
			best, bestFull, found = ds, full, true
		}
	}
	return best, bestFull, found
}

// applyReuse marks steps served by ds as cached. Partial reuse keeps post
// steps live since the dataset is too shallow for them.
func applyReuse(plan *model.Plan, ds model.Dataset, full bool) {
	for i := range plan.Steps {
		if full || plan.Steps[i].Kind != model.ActorKindPosts {
			plan.Steps[i].Cached = true
		}
	}
	plan.ExistingDatasetIDs = []string{ds.ID}
	plan.ReusedDatasetDetails = []model.ReusedDataset{{
		DatasetID:   ds.ID,
		Query:       ds.Query,
		RecordCount: ds.RecordCount,
		PostLimit:   ds.PostLimit,
		FullReuse:   full,
	}}
}

func reasoning(plan *model.Plan, req Request, reuse string) string {
	var b strings.Builder
	switch plan.Intent {
	case model.IntentComparisonMap:
		fmt.Fprintf(&b, "Comparing the audiences of %s", atList(plan.Targets))
	case model.IntentFandomMap:
		fmt.Fprintf(&b, "Mapping the audience of %s", atList(plan.Targets))
	case model.IntentHashtagMap:
		b.WriteString("Mapping the accounts posting under the query hashtags")
	default:
		b.WriteString("Discovering accounts that match the query topic")
	}
	fmt.Fprintf(&b, " with a sample of %d", req.SampleSize)
	if req.PostLimit > 0 {
		fmt.Fprintf(&b, " and %d posts per profile", req.PostLimit)
	}
	if req.UseDeepAnalysis {
		b.WriteString(", including who the sample follows")
	}
	b.WriteString("; " + reuse + ".")
	return b.String()
}

func atList(handles []string) string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = "@" + h
	}
	return strings.Join(out, ", ")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
