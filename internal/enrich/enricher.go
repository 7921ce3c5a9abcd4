package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/store"
)

// ProfileScraper runs a profile actor to completion. *actor.Runner
// satisfies it.
type ProfileScraper interface {
	RunSync(ctx context.Context, actorID string, input map[string]any) ([]json.RawMessage, error)
}

// Config tunes the enricher.
type Config struct {
	ProfileActorID string
	// InputKey receives the handle list; defaults to "usernames".
	InputKey   string
	MaxHandles int
}

// Request is the input to PerformDeepEnrichment.
type Request struct {
	Graph     *model.Graph
	DatasetID string
	// JobID, when set, gets metadata.isEnriching mirrored while the task runs.
	JobID    string
	Profiles *graph.ProfileIndex
}

// Enricher re-scrapes gap profiles and stores a re-hydrated snapshot.
type Enricher struct {
	store   store.Store
	scraper ProfileScraper
	exec    *Executor
	cfg     Config
}

// New creates an Enricher. A nil executor gets a fresh one.
func New(st store.Store, scraper ProfileScraper, exec *Executor, cfg Config) *Enricher {
	if exec == nil {
		exec = NewExecutor()
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "usernames"
	}
	return &Enricher{store: st, scraper: scraper, exec: exec, cfg: cfg}
}

// Executor returns the executor running the enricher's tasks.
func (e *Enricher) Executor() *Executor { return e.exec }

// State returns the enrichment state of a dataset.
func (e *Enricher) State(datasetID string) State { return e.exec.State(datasetID) }

// PerformDeepEnrichment starts a background enrichment of req.Graph's gaps
// and returns the dataset's state. Nothing is returned as an error: a
// dataset already being enriched, a store failure or a failed scrape are
// logged and reflected in the state.
func (e *Enricher) PerformDeepEnrichment(ctx context.Context, req Request) State {
	log := zap.L().With(zap.String("dataset_id", req.DatasetID))

	handles := IdentifyEnrichmentGaps(req.Graph)
	if len(handles) == 0 {
		log.Debug("enrich: no gaps")
		e.exec.SetState(req.DatasetID, StateEnrichmentComplete)
		return e.exec.State(req.DatasetID)
	}
	e.exec.SetState(req.DatasetID, StateGapsFound)
	if e.cfg.MaxHandles > 0 && len(handles) > e.cfg.MaxHandles {
		handles = handles[:e.cfg.MaxHandles]
	}

	acquired, err := e.store.TryAcquireEnrichment(ctx, req.DatasetID)
	if err != nil {
		log.Error("enrich: acquire flag", zap.Error(err))
		return e.exec.State(req.DatasetID)
	}
	if !acquired {
		log.Info("enrich: dataset already being enriched")
		return StateEnrichmentRunning
	}
	e.setJobEnriching(ctx, req.JobID, true)

	submitted := e.exec.Submit(Task{
		DatasetID: req.DatasetID,
		Handles:   handles,
		Run: func(taskCtx context.Context) error {
			defer e.release(req.DatasetID, req.JobID)
			return e.enrich(taskCtx, req, handles)
		},
	})
	if !submitted {
		e.release(req.DatasetID, req.JobID)
		log.Warn("enrich: executor refused task")
		return e.exec.State(req.DatasetID)
	}
	log.Info("enrich: started", zap.Int("handles", len(handles)))
	return StateEnrichmentRunning
}

func (e *Enricher) enrich(ctx context.Context, req Request, handles []string) error {
	start := time.Now()
	items, err := e.scraper.RunSync(ctx, e.cfg.ProfileActorID, map[string]any{e.cfg.InputKey: handles})
	if err != nil {
		return eris.Wrap(err, "enrich: scrape profiles")
	}

	ix := graph.NewProfileIndex()
	ix.Merge(req.Profiles)
	ix.Merge(graph.IndexItems(items))

	g := cloneGraph(req.Graph)
	hydrated := graph.Hydrate(&g, ix)

	snapshot, err := json.Marshal(g)
	if err != nil {
		return eris.Wrap(err, "enrich: encode graph")
	}
	profiles, err := json.Marshal(ix)
	if err != nil {
		return eris.Wrap(err, "enrich: encode profile map")
	}
	if _, err := e.store.InsertRecords(ctx, req.DatasetID, []model.DatasetRecord{
		{RecordType: model.RecordTypeGraphSnapshot, Payload: snapshot},
		{RecordType: model.RecordTypeProfileMap, Payload: profiles},
	}); err != nil {
		return eris.Wrap(err, "enrich: store snapshot")
	}

	zap.L().Info("enrich: complete",
		zap.String("dataset_id", req.DatasetID),
		zap.Int("scraped", len(items)),
		zap.Int("hydrated", hydrated),
		zap.Int("remaining_gaps", len(IdentifyEnrichmentGaps(&g))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (e *Enricher) release(datasetID, jobID string) {
	ctx := context.Background()
	if err := e.store.ReleaseEnrichment(ctx, datasetID); err != nil {
		zap.L().Error("enrich: release flag", zap.String("dataset_id", datasetID), zap.Error(err))
	}
	e.setJobEnriching(ctx, jobID, false)
}

func (e *Enricher) setJobEnriching(ctx context.Context, jobID string, enriching bool) {
	if jobID == "" {
		return
	}
	if err := e.store.SetJobEnriching(ctx, jobID, enriching); err != nil {
		zap.L().Warn("enrich: mirror job flag", zap.String("job_id", jobID), zap.Bool("enriching", enriching), zap.Error(err))
	}
}

func cloneGraph(g *model.Graph) model.Graph {
	if g == nil {
		return model.Graph{}
	}
	out := model.Graph{
		Nodes: make([]model.Node, len(g.Nodes)),
		Links: append([]model.Link(nil), g.Links...),
	}
	for i, n := range g.Nodes {
		if n.Provenance != nil {
			p := *n.Provenance
			p.Evidence = append([]string(nil), p.Evidence...)
			n.Provenance = &p
		}
		out.Nodes[i] = n
	}
	return out
}
