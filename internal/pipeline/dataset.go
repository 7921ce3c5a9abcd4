package pipeline

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/enrich"
	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
)

// DatasetGraph is the current graph of a dataset and its enrichment gaps.
type DatasetGraph struct {
	Dataset  *model.Dataset
	Graph    model.Graph
	Profiles *graph.ProfileIndex
	Gaps     []model.EnrichmentGap
	// Snapshot is false when no snapshot was stored yet and the graph was
	// built from the raw scrape items.
	Snapshot bool
}

// GetDatasetGraph returns the latest graph snapshot of a dataset. A dataset
// without one gets a comparison graph of its scrape items.
func (p *Pipeline) GetDatasetGraph(ctx context.Context, datasetID string) (*DatasetGraph, error) {
	ds, err := p.store.GetDatasetByID(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load dataset %s", datasetID)
	}
	out := &DatasetGraph{Dataset: ds}
	results := graph.StepResults(ds.StepItems())

	if rec, ok := ds.Latest(model.RecordTypeGraphSnapshot); ok {
		if err := json.Unmarshal(rec.Payload, &out.Graph); err != nil {
			return nil, eris.Wrapf(err, "pipeline: decode snapshot of %s", datasetID)
		}
		out.Snapshot = true
	} else {
		out.Graph = graph.GenerateComparisonGraph(planFromItems(results), results, ds.Query)
	}

	out.Profiles = graph.IndexItems(results.AllItems())
	if rec, ok := ds.Latest(model.RecordTypeProfileMap); ok {
		var stored graph.ProfileIndex
		if err := json.Unmarshal(rec.Payload, &stored); err != nil {
			return nil, eris.Wrapf(err, "pipeline: decode profile map of %s", datasetID)
		}
		out.Profiles.Merge(&stored)
	}

	out.Gaps = enrich.DetectGaps(&out.Graph)
	return out, nil
}

// planFromItems stands in for the plan of a dataset read on its own: one
// untyped step per stored step id.
func planFromItems(results graph.StepResults) *model.Plan {
	plan := &model.Plan{}
	for _, id := range sortedKeys(results) {
		plan.Steps = append(plan.Steps, model.PlanStep{StepID: id})
	}
	return plan
}

func sortedKeys(results graph.StepResults) []string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
