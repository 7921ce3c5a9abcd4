package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/config"
	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/monitoring"
	"github.com/sells-group/fandom-graph/internal/pipeline"
	"github.com/sells-group/fandom-graph/internal/planner"
	"github.com/sells-group/fandom-graph/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:   config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
		Planner: config.PlannerConfig{DefaultSampleSize: 100, DefaultPostLimit: 3, Platform: "instagram"},
		Pricing: config.PricingConfig{
			OrchestrationFee: 1.25,
			Models:           map[string]config.ModelPricing{"custom-model": {Input: 1, Output: 2}},
		},
	}
}

func planFlagsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addPlanFlags(c)
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestPlanRequest(t *testing.T) {
	cfg = testConfig(t)

	tests := []struct {
		name   string
		args   []string
		sample int
		posts  int
		deep   bool
	}{
		{name: "defaults", sample: 100, posts: 3},
		{name: "explicit", args: []string{"--sample", "250", "--posts", "0", "--deep"}, sample: 250, posts: 0, deep: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := planRequest(planFlagsCmd(t, tt.args...), "map the fans of @nike")
			assert.Equal(t, tt.sample, req.SampleSize)
			assert.Equal(t, tt.posts, req.PostLimit)
			assert.Equal(t, tt.deep, req.UseDeepAnalysis)
			assert.Equal(t, "map the fans of @nike", req.Query)
		})
	}
}

func TestRates_OverlayConfig(t *testing.T) {
	cfg = testConfig(t)

	r := rates()
	assert.InDelta(t, 1.25, r.OrchestrationFee, 1e-9)
	assert.InDelta(t, 1.0, r.Models["custom-model"].Input, 1e-9)
	assert.Contains(t, r.Models, "gemini-2.5-flash")
}

func TestBuildPlan_ReusesDataset(t *testing.T) {
	cfg = testConfig(t)
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	p, _, err := initPlanner()
	require.NoError(t, err)

	ds := &model.Dataset{UserID: defaultUser, Query: "old", TargetHandle: planner.TargetKey([]string{"nike"}), Platform: "instagram", SampleSize: 100, PostLimit: 3, RecordCount: 150}
	require.NoError(t, st.CreateDataset(ctx, ds))

	plan, err := buildPlan(ctx, planFlagsCmd(t), p, st, "map the fans of @nike")
	require.NoError(t, err)
	assert.Contains(t, plan.ExistingDatasetIDs, ds.ID)

	fresh, err := buildPlan(ctx, planFlagsCmd(t, "--ignore-cache"), p, st, "map the fans of @nike")
	require.NoError(t, err)
	assert.Empty(t, fresh.ExistingDatasetIDs)
}

func TestFormatPlan(t *testing.T) {
	plan := &model.Plan{
		Intent:    model.IntentFandomMap,
		Targets:   []string{"nike"},
		Reasoning: "map followers of @nike",
		Steps: []model.PlanStep{
			{StepID: "step_1", Kind: model.ActorKindFollowers, ActorID: "apify~followers", EstimatedRecords: 100, EstimatedCost: 0.05},
			{StepID: "step_2", Kind: model.ActorKindProfile, ActorID: "apify~profile", EstimatedRecords: 101, EstimatedCost: 0.26, Cached: true},
		},
		Quote: model.Quote{ScrapeCost: 0.31, OrchestrationFee: 0.5, Total: 0.81},
	}

	var buf bytes.Buffer
	formatPlan(&buf, plan)

	out := buf.String()
	assert.Contains(t, out, "fandom_map")
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "apify~followers")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "$0.81")
}

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.Job{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Type:      model.JobTypeOrchestration,
			Status:    model.JobStatusRunning,
			Progress:  40,
			Result:    model.JobResult{Stage: "scraping"},
			CreatedAt: now,
			Metadata: model.JobMetadata{
				Query: "map the fans of @nike and compare them with everyone who follows @adidas on instagram",
				Plan:  &model.Plan{Steps: []model.PlanStep{{StepID: "step_1"}, {StepID: "step_2"}}},
				Steps: map[string]*model.StepRun{
					"step_1": {Status: model.StepStatusSucceeded},
					"step_2": {Status: model.StepStatusRunning},
				},
			},
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "2026-06-15 10:30")
}

func TestWaitForJob(t *testing.T) {
	cfg = testConfig(t)
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	job := &model.Job{UserID: defaultUser, Type: model.JobTypeOrchestration, Status: model.JobStatusRunning}
	require.NoError(t, st.CreateJob(ctx, job))

	go func() {
		time.Sleep(20 * time.Millisecond)
		job.Status = model.JobStatusCompleted
		job.Result.Stage = "completed"
		_ = st.UpdateJob(context.Background(), job)
	}()

	got, err := waitForJob(ctx, st, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	var buf bytes.Buffer
	formatJob(&buf, got)
	assert.Contains(t, buf.String(), "completed")
}

func TestWaitForJob_Errors(t *testing.T) {
	cfg = testConfig(t)

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = waitForJob(context.Background(), st, "missing", time.Millisecond)
	assert.ErrorIs(t, err, store.ErrNotFound)

	job := &model.Job{UserID: defaultUser, Type: model.JobTypeOrchestration, Status: model.JobStatusQueued}
	require.NoError(t, st.CreateJob(context.Background(), job))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = waitForJob(ctx, st, job.ID, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteGraph(t *testing.T) {
	dg := &pipeline.DatasetGraph{
		Dataset:  &model.Dataset{ID: "ds-1", Query: "map @nike"},
		Graph:    model.Graph{Nodes: []model.Node{{ID: "MAIN_0", Group: model.GroupMain, Label: "@nike"}}},
		Profiles: graph.NewProfileIndex(),
	}

	var buf bytes.Buffer
	require.NoError(t, writeGraph(&buf, dg))

	var out graphOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "ds-1", out.DatasetID)
	assert.False(t, out.Snapshot)
	require.Len(t, out.Graph.Nodes, 1)
	assert.NotNil(t, out.Gaps)
	assert.Contains(t, buf.String(), `"gaps": []`)
}

func TestFormatGaps(t *testing.T) {
	var empty bytes.Buffer
	formatGaps(&empty, nil)
	assert.Contains(t, empty.String(), "No enrichment gaps")

	var buf bytes.Buffer
	formatGaps(&buf, []model.EnrichmentGap{{NodeID: "bob", Handle: "bob", Reason: "missing bio"}})
	assert.Contains(t, buf.String(), "@bob")
	assert.Contains(t, buf.String(), "missing bio")
}

func TestFormatJobStats(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, &monitoring.MetricsSnapshot{
		LookbackHours: 24, JobsTotal: 4, JobsCompleted: 3, JobsFailed: 1, FailRate: 0.25, QuotedSpendUSD: 7.5,
	})

	out := buf.String()
	assert.Contains(t, out, "Jobs in last 24h: 4")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "$7.50")
}
