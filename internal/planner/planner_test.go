package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

func TestDetectIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		seed    string
		intent  model.Intent
		targets []string
		tags    []string
	}{
		{name: "single handle", query: "map the rising subcultures of @Nike fans", intent: model.IntentFandomMap, targets: []string{"nike"}},
		{name: "two handles", query: "compare @nike and @adidas.", intent: model.IntentComparisonMap, targets: []string{"nike", "adidas"}},
		{name: "seed adds target", query: "who follows @nike", seed: "also @puma and @nike", intent: model.IntentComparisonMap, targets: []string{"nike", "puma"}},
		{name: "hashtags only", query: "who posts under #RunClub and #marathon", intent: model.IntentHashtagMap, tags: []string{"runclub", "marathon"}},
		{name: "email is not a handle", query: "runners contacting hello@nike.com", intent: model.IntentTopicDiscovery},
		{name: "plain topic", query: "sustainable sneaker culture", intent: model.IntentTopicDiscovery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			intent, targets, tags := DetectIntent(tt.query, tt.seed)
			assert.Equal(t, tt.intent, intent)
			assert.Equal(t, tt.targets, targets)
			if tt.tags != nil {
				assert.Equal(t, tt.tags, tags)
			}
		})
	}
}

func TestPlanValidatesRequest(t *testing.T) {
	t.Parallel()

	p := New(nil, nil)
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "missing query", req: Request{SampleSize: 100}, field: "query"},
		{name: "zero sample", req: Request{Query: "@nike", SampleSize: 0}, field: "sampleSize"},
		{name: "huge sample", req: Request{Query: "@nike", SampleSize: 20000}, field: "sampleSize"},
		{name: "negative posts", req: Request{Query: "@nike", SampleSize: 10, PostLimit: -1}, field: "postLimit"},
		{name: "too many posts", req: Request{Query: "@nike", SampleSize: 10, PostLimit: 500}, field: "postLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Plan(context.Background(), tt.req)
			require.Error(t, err)
			var ve *resilience.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPlanFandomMapSteps(t *testing.T) {
	t.Parallel()

	plan, err := New(nil, nil).Plan(context.Background(), Request{
		Query:           "map the fans of @nike",
		SampleSize:      100,
		PostLimit:       10,
		UseDeepAnalysis: true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.IntentFandomMap, plan.Intent)
	require.Len(t, plan.Steps, 4)
	ids := []string{}
	for _, s := range plan.Steps {
		ids = append(ids, s.StepID)
	}
	assert.Equal(t, []string{"step_1", "step_2", "step_3", "step_4"}, ids)

	assert.True(t, plan.Steps[0].Primary())
	assert.Equal(t, []any{"nike"}, plan.Steps[0].Input["usernames"])
	assert.Equal(t, 100, plan.Steps[0].Input["maxCount"])

	assert.Equal(t, []string{"step_1"}, plan.Steps[1].DependsOn())
	assert.Equal(t, []any{"@USE_DATA_FROM_STEP_step_1", "nike"}, plan.Steps[1].Input["usernames"])
	assert.Equal(t, "@USE_DATA_FROM_STEP_step_1", plan.Steps[2].Input["username"])
	assert.Equal(t, 10, plan.Steps[2].Input["resultsLimit"])
	assert.Equal(t, model.ActorKindFollowing, plan.Steps[3].Kind)
	assert.Equal(t, 20, plan.Steps[3].Input["maxCount"])

	assert.Len(t, plan.PrimarySteps(), 1)
	assert.Positive(t, plan.Quote.ScrapeCost)
	assert.Equal(t, 0.50, plan.Quote.OrchestrationFee)
	assert.Contains(t, plan.Reasoning, "@nike")
}

func TestPlanWithoutPostsOrDeep(t *testing.T) {
	t.Parallel()

	plan, err := New(nil, nil).Plan(context.Background(), Request{Query: "#runclub vibes", SampleSize: 50})
	require.NoError(t, err)

	assert.Equal(t, model.IntentHashtagMap, plan.Intent)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, model.ActorKindHashtag, plan.Steps[0].Kind)
	assert.Equal(t, []string{"runclub"}, plan.Steps[0].Input["hashtags"])
}

func TestPlanReuse(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := []model.Dataset{
		{ID: "ds-small", TargetHandle: "nike", RecordCount: 50, PostLimit: 20, CreatedAt: older},
		{ID: "ds-shallow", TargetHandle: "nike", RecordCount: 500, PostLimit: 0, CreatedAt: older.Add(time.Hour)},
		{ID: "ds-full", TargetHandle: "@Nike", RecordCount: 200, PostLimit: 10, CreatedAt: older},
		{ID: "ds-other", TargetHandle: "adidas", RecordCount: 1000, PostLimit: 50, CreatedAt: older},
	}
	p := New(nil, nil)

	t.Run("full reuse", func(t *testing.T) {
		t.Parallel()
		plan, err := p.Plan(context.Background(), Request{Query: "@nike", SampleSize: 100, PostLimit: 10, ExistingDatasets: existing})
		require.NoError(t, err)
		assert.True(t, plan.FullCacheHit())
		assert.Equal(t, []string{"ds-full"}, plan.ExistingDatasetIDs)
		assert.Zero(t, plan.Quote.Total)
		assert.True(t, plan.ReusedDatasetDetails[0].FullReuse)
	})

	t.Run("partial reuse", func(t *testing.T) {
		t.Parallel()
		plan, err := p.Plan(context.Background(), Request{Query: "@nike", SampleSize: 300, PostLimit: 10, ExistingDatasets: existing})
		require.NoError(t, err)
		assert.False(t, plan.FullCacheHit())
		assert.Equal(t, []string{"ds-shallow"}, plan.ExistingDatasetIDs)
		for _, s := range plan.Steps {
			assert.Equal(t, s.Kind != model.ActorKindPosts, s.Cached, s.StepID)
		}
		assert.Equal(t, 0.50, plan.Quote.OrchestrationFee)
	})

	t.Run("ignore cache", func(t *testing.T) {
		t.Parallel()
		plan, err := p.Plan(context.Background(), Request{Query: "@nike", SampleSize: 100, PostLimit: 10, ExistingDatasets: existing, IgnoreCache: true})
		require.NoError(t, err)
		assert.Empty(t, plan.ExistingDatasetIDs)
		assert.Positive(t, plan.Quote.Total)
	})
}

func TestQuoteMonotonicAndPure(t *testing.T) {
	t.Parallel()

	p := New(nil, nil)
	plan, err := p.Plan(context.Background(), Request{Query: "@nike", SampleSize: 100, PostLimit: 10})
	require.NoError(t, err)
	before := plan.Quote

	bigger := p.Quote(plan, 1000, 10)
	assert.GreaterOrEqual(t, bigger.Quote.Total, plan.Quote.Total)
	assert.Equal(t, before, plan.Quote)
	assert.Equal(t, p.Quote(plan, 1000, 10), bigger)
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), c)

	path := filepath.Join(t.TempDir(), "actors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`platform: instagram
actors:
  profile:
    id: acme~profiles
    price_per_1000: 4.0
  posts:
    limit_key: maxPosts
`), 0o600))

	c, err = LoadCatalog(path)
	require.NoError(t, err)
	profile, ok := c.Actor(model.ActorKindProfile)
	require.True(t, ok)
	assert.Equal(t, "acme~profiles", profile.ID)
	assert.Equal(t, "usernames", profile.InputKey)
	assert.Equal(t, 4.0, profile.PricePer1000)

	posts, _ := c.Actor(model.ActorKindPosts)
	assert.Equal(t, "apify~instagram-post-scraper", posts.ID)
	assert.Equal(t, "maxPosts", posts.LimitKey)

	rates := c.Rates(cost.DefaultRates())
	assert.Equal(t, 4.0, rates.Kinds[model.ActorKindProfile])

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidatePlan(t *testing.T) {
	t.Parallel()

	dep := func(id string) map[string]any {
		return map[string]any{"usernames": []any{model.PlaceholderPrefix + id}}
	}
	step := func(id string, input map[string]any) model.PlanStep {
		return model.PlanStep{StepID: id, Input: input}
	}

	tests := []struct {
		name   string
		plan   *model.Plan
		reason string
	}{
		{name: "valid chain", plan: &model.Plan{Steps: []model.PlanStep{
			step("step_1", map[string]any{"usernames": []any{"nike"}}),
			step("step_2", dep("step_1")),
			step("step_3", dep("step_1")),
		}}},
		{name: "nil plan", reason: "has no steps"},
		{name: "duplicate id", plan: &model.Plan{Steps: []model.PlanStep{step("step_1", nil), step("step_1", nil)}}, reason: "duplicate step step_1"},
		{name: "unknown dependency", plan: &model.Plan{Steps: []model.PlanStep{
			step("step_1", nil),
			step("step_2", dep("step_9")),
		}}, reason: "step step_2 depends on unknown step step_9"},
		{name: "self dependency", plan: &model.Plan{Steps: []model.PlanStep{step("step_1", dep("step_1"))}}, reason: "dependency cycle at step step_1"},
		{name: "cycle", plan: &model.Plan{Steps: []model.PlanStep{
			step("step_1", dep("step_3")),
			step("step_2", dep("step_1")),
			step("step_3", dep("step_2")),
		}}, reason: "dependency cycle at step step_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePlan(tt.plan)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var ve *resilience.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "plan", ve.Field)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}

	plan, err := New(nil, nil).Plan(context.Background(), Request{Query: "map @nike", SampleSize: 10, PostLimit: 5})
	require.NoError(t, err)
	assert.NoError(t, ValidatePlan(plan))
}
