// Package pipeline turns a job's scraped step results into analytics and a
// hydrated graph snapshot.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/extract"
	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/promptctx"
	"github.com/sells-group/fandom-graph/internal/store"
)

const defaultMaxImages = 30

// Extractor produces analytics from a rendered context. *extract.Engine
// satisfies it.
type Extractor interface {
	AnalyzeFandomDeepDive(ctx context.Context, req extract.Request) (*model.Analytics, error)
}

// Pipeline runs context building, extraction and graph building for a job
// whose scrape steps have resolved.
type Pipeline struct {
	store     store.Store
	extractor Extractor
	ctxOpts   promptctx.Options
	platform  string
	maxImages int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithContextOptions sets the prompt context limits.
func WithContextOptions(o promptctx.Options) Option {
	return func(p *Pipeline) { p.ctxOpts = o }
}

// WithPlatform names the social platform in prompts.
func WithPlatform(name string) Option {
	return func(p *Pipeline) { p.platform = name }
}

// WithMaxImages caps the post images sent to the visual branch. Zero
// disables it.
func WithMaxImages(n int) Option {
	return func(p *Pipeline) { p.maxImages = n }
}

// New creates a Pipeline.
func New(st store.Store, ex Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     st,
		extractor: ex,
		ctxOpts:   promptctx.DefaultOptions(),
		platform:  "instagram",
		maxImages: defaultMaxImages,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Output is what one run produces.
type Output struct {
	Graph     model.Graph
	Profiles  *graph.ProfileIndex
	Analytics *model.Analytics
}

// Finalize runs the pipeline for job, stores the snapshot records in the
// job's dataset and sets job.Result.AnalysisResult.
func (p *Pipeline) Finalize(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("dataset_id", job.Result.DatasetID))
	log.Info("pipeline: finalizing job")

	ds, err := p.store.GetDatasetByID(ctx, job.Result.DatasetID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load dataset")
	}

	out, err := p.Run(ctx, job.Metadata.Plan, graph.StepResults(ds.StepItems()), job.Metadata.Query, job.Metadata.UseDeepAnalysis)
	if err != nil {
		return err
	}

	if err := trackPhase(log, "snapshot", func() error {
		return p.storeOutput(ctx, ds.ID, out)
	}); err != nil {
		return err
	}

	job.Result.AnalysisResult = out.Analytics
	log.Info("pipeline: job finalized",
		zap.Int("nodes", len(out.Graph.Nodes)),
		zap.Int("links", len(out.Graph.Links)),
		zap.Int("profiles", out.Profiles.Len()),
	)
	return nil
}

// Run builds the context, extracts analytics and builds the hydrated graph.
// A failed extraction mode degrades to empty analytics; only an invalid
// request or a cancelled context is an error.
func (p *Pipeline) Run(ctx context.Context, plan *model.Plan, results graph.StepResults, query string, deep bool) (*Output, error) {
	log := zap.L().With(zap.String("query", query))
	if plan == nil {
		plan = &model.Plan{Query: query}
	}

	var pc *promptctx.Context
	_ = trackPhase(log, "context", func() error {
		entries := promptctx.Collect(results, stepKinds(plan))
		pc = promptctx.Build(entries, promptctx.NewRegistry(), p.ctxOpts)
		log.Debug("pipeline: context built",
			zap.Int("profiles", len(entries)),
			zap.Int("tokens", pc.EstimatedTokens),
			zap.Int("compression_level", pc.Level),
		)
		return nil
	})

	analytics := &model.Analytics{}
	if len(pc.IDs) > 0 && p.extractor != nil {
		mode := extract.ModeFull
		if deep {
			mode = extract.ModeDeep
		}
		err := trackPhase(log, "extract", func() error {
			a, err := p.extractor.AnalyzeFandomDeepDive(ctx, extract.Request{
				Query:     query,
				Intent:    plan.Intent,
				Platform:  p.platform,
				Mode:      mode,
				Context:   pc,
				ImageURLs: imageURLs(plan, results, p.maxImages),
			})
			if err != nil {
				return err
			}
			if a != nil {
				analytics = a
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: extract")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: run")
	}

	out := &Output{Analytics: analytics}
	_ = trackPhase(log, "graph", func() error {
		out.Graph, out.Profiles = BuildGraph(plan, results, query, analytics)
		return nil
	})
	return out, nil
}

// BuildGraph assembles the main nodes, the analytics entities and, for
// comparisons or when analytics is empty, the scraped profiles of each
// main; then hydrates every profile node from the step results.
func BuildGraph(plan *model.Plan, results graph.StepResults, query string, analytics *model.Analytics) (model.Graph, *graph.ProfileIndex) {
	b := graph.NewBuilder()
	mains := graph.Mains(plan, results, query)
	b.AddMains(mains)

	if plan.Intent == model.IntentComparisonMap || analytics.IsEmpty() {
		b.AddComparison(plan, results, mains)
	}
	if err := b.AddAnalytics(analytics, mains, results); err != nil {
		zap.L().Warn("pipeline: analytics tree rejected, keeping flat entities", zap.Error(err))
		flat := *analytics
		flat.Root = nil
		_ = b.AddAnalytics(&flat, mains, results)
	}

	g := b.Graph()
	ix := graph.IndexItems(results.AllItems())
	graph.Hydrate(&g, ix)
	return g, ix
}

func (p *Pipeline) storeOutput(ctx context.Context, datasetID string, out *Output) error {
	snapshot, err := json.Marshal(out.Graph)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode graph")
	}
	profiles, err := json.Marshal(out.Profiles)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode profile map")
	}
	analytics, err := json.Marshal(out.Analytics)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode analytics")
	}
	_, err = p.store.InsertRecords(ctx, datasetID, []model.DatasetRecord{
		{RecordType: model.RecordTypeGraphSnapshot, Payload: snapshot},
		{RecordType: model.RecordTypeProfileMap, Payload: profiles},
		{RecordType: model.RecordTypeAnalytics, Payload: analytics},
	})
	return eris.Wrap(err, "pipeline: store snapshot")
}

func stepKinds(plan *model.Plan) map[string]model.ActorKind {
	kinds := make(map[string]model.ActorKind, len(plan.Steps))
	for _, s := range plan.Steps {
		kinds[s.StepID] = s.Kind
	}
	return kinds
}

// imageURLs collects distinct post images from posts steps, up to limit.
func imageURLs(plan *model.Plan, results graph.StepResults, limit int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range plan.Steps {
		if s.Kind != model.ActorKindPosts {
			continue
		}
		for _, raw := range results.Items(s.StepID) {
			var post model.Post
			if err := json.Unmarshal(raw, &post); err != nil || post.DisplayURL == "" || seen[post.DisplayURL] {
				continue
			}
			seen[post.DisplayURL] = true
			out = append(out, post.DisplayURL)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// trackPhase times fn and logs its outcome.
func trackPhase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	ms := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", ms), zap.Error(err))
		return err
	}
	log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", ms))
	return nil
}
