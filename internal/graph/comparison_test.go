package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/model"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestGenerateComparisonGraph_ResolvesPlaceholderLabel(t *testing.T) {
	t.Parallel()

	plan := &model.Plan{Steps: []model.PlanStep{{
		StepID:  "step_2",
		ActorID: "apify~instagram-profile-scraper",
		Kind:    model.ActorKindProfile,
		Input:   map[string]any{"username": []any{"@USE_DATA_FROM_STEP_step_1"}},
	}}}
	results := StepResults{"step_1": {raw(`[{"username":"resolved_target_1"}]`)}}

	g := GenerateComparisonGraph(plan, results, "compare fans")

	main := g.NodeByID("MAIN_0")
	require.NotNil(t, main)
	assert.Equal(t, "MAIN_0", main.ID)
	assert.Equal(t, "@resolved_target_1", main.Label)
	assert.Equal(t, model.GroupMain, main.Group)
	assert.Nil(t, g.NodeByID("MAIN_0 "))
}

func TestGenerateComparisonGraph_SharedProfilesWeighMore(t *testing.T) {
	t.Parallel()

	plan := &model.Plan{
		Intent:  model.IntentComparisonMap,
		Targets: []string{"nike", "adidas"},
		Steps: []model.PlanStep{{
			StepID: "step_1",
			Kind:   model.ActorKindFollowers,
			Input:  map[string]any{"usernames": []string{"nike", "adidas"}},
		}},
	}
	results := StepResults{"step_1": {
		raw(`{"username":"Runner","sourceUsername":"nike","biography":"runs"}`),
		raw(`{"username":"runner","sourceUsername":"adidas"}`),
		raw(`{"username":"only_nike","sourceUsername":"@nike"}`),
		raw(`{"username":"nike","biography":"Just do it","followersCount":300000000}`),
	}}

	g := GenerateComparisonGraph(plan, results, "")

	require.NotNil(t, g.NodeByID("MAIN_0"))
	require.NotNil(t, g.NodeByID("MAIN_1"))
	assert.Equal(t, "@adidas", g.NodeByID("MAIN_1").Label)

	shared := g.NodeByID("runner")
	single := g.NodeByID("only_nike")
	require.NotNil(t, shared)
	require.NotNil(t, single)
	assert.Greater(t, shared.Val, single.Val)
	assert.Equal(t, "runs", shared.Data.Bio)
	require.NotNil(t, shared.Provenance)
	assert.Len(t, shared.Provenance.Evidence, 2)

	// The target's own record hydrates the main node instead of becoming a creator.
	assert.Nil(t, g.NodeByID("nike"))
	assert.Equal(t, "Just do it", g.NodeByID("MAIN_0").Data.Bio)

	links := map[string]float64{}
	for _, l := range g.Links {
		links[l.Source+">"+l.Target] = l.Value
	}
	assert.Equal(t, 2.0, links["MAIN_0>runner"])
	assert.Equal(t, 2.0, links["MAIN_1>runner"])
	assert.Equal(t, 1.0, links["MAIN_0>only_nike"])
}

func TestGenerateComparisonGraph_UniqueIDs(t *testing.T) {
	t.Parallel()

	plan := &model.Plan{Targets: []string{"@Nike "}, Steps: []model.PlanStep{
		{StepID: "step_1", Kind: model.ActorKindFollowers},
		{StepID: "step_2", Kind: model.ActorKindProfile},
	}}
	results := StepResults{
		"step_1": {raw(`{"username":"A"}`), raw(`{"username":"@a"}`), raw(`{"username":" a "}`)},
		"step_2": {raw(`{"username":"a","followersCount":10}`)},
	}

	g := GenerateComparisonGraph(plan, results, "")

	seen := map[string]bool{}
	for _, n := range g.Nodes {
		assert.False(t, seen[n.ID], "duplicate id %q", n.ID)
		seen[n.ID] = true
	}
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, 10, g.NodeByID("a").Data.Followers)
}

func TestMains_FallsBackToQueryHandles(t *testing.T) {
	t.Parallel()

	mains := Mains(nil, nil, "compare @Nike, @adidas and @nike.")
	require.Len(t, mains, 2)
	assert.Equal(t, Main{ID: "MAIN_0", Handle: "nike"}, mains[0])
	assert.Equal(t, Main{ID: "MAIN_1", Handle: "adidas"}, mains[1])
}

func TestResolveHandles(t *testing.T) {
	t.Parallel()

	results := StepResults{"step_1": {
		raw(`[{"username":"a"},{"username":"B"}]`),
		raw(`[[{"username":"c"}]]`),
		raw(`{"username":"a"}`),
	}}

	assert.Equal(t, []string{"a", "b", "c"}, ResolveHandles("@USE_DATA_FROM_STEP_step_1", results))
	assert.Equal(t, []string{"x", "a", "b", "c"}, ResolveHandles([]any{"@X", "@USE_DATA_FROM_STEP_step_1"}, results))
	assert.Empty(t, ResolveHandles("@USE_DATA_FROM_STEP_step_9", results))

	id, ok := PlaceholderStep("@USE_DATA_FROM_STEP_step_1 ")
	assert.True(t, ok)
	assert.Equal(t, "step_1", id)
	_, ok = PlaceholderStep("@USE_DATA_FROM_STEP_")
	assert.False(t, ok)
}
