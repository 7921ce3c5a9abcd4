package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/llmjson"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/promptctx"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

func TestAnalyzeRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&mockClient{})

	_, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "  "})
	assert.True(t, resilience.IsValidation(err))

	_, err = e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Mode: "poetry"})
	assert.True(t, resilience.IsValidation(err))
}

func TestAnalyzeCreatorsGroundsAgainstContext(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeCreators)).Return(reply(`{"creators": [
		{"contextId": "P1", "handle": "alice", "category": "coach", `+groundedJSON+`},
		{"contextId": "P9", "handle": "mallory", `+groundedJSON+`},
		{"contextId": "P2", "handle": "bob", "evidence": "popular"}
	]}`), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{
		Query:   "who follows @alice",
		Mode:    ModeCreators,
		Context: testContext(),
	})
	require.NoError(t, err)

	require.Len(t, out.Creators, 1)
	assert.Equal(t, "alice", out.Creators[0].Handle)
	require.NotNil(t, out.Audit)
	assert.Equal(t, llm.Usage{Input: 100, Output: 20}, e.Usage())
	client.AssertExpectations(t)
}

func TestAnalyzeStructureFiltersTreeProvenance(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeStructure)).Return(reply(`{"root": {"id": "main", "type": "main", "children": [
		{"id": "cluster_1", "label": "Runners", "type": "cluster", "evidence": "popular", "sourceUrl": "TBD", "children": [
			{"id": "[P1]", "type": "creator", `+groundedJSON+`},
			{"id": "[P2]", "type": "creator", "evidence": "popular"}
		]}
	]}}`), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{
		Query:   "who follows @alice",
		Mode:    ModeStructure,
		Context: testContext(),
	})
	require.NoError(t, err)

	require.NotNil(t, out.Root)
	require.Len(t, out.Root.Children, 1)
	cluster := out.Root.Children[0]
	assert.Empty(t, cluster.Evidence)
	assert.Empty(t, cluster.SourceURL)
	require.Len(t, cluster.Children, 1)
	assert.Equal(t, "alice", cluster.Children[0].ID)
	client.AssertExpectations(t)
}

func TestAnalyzeUnpacksRegistryTokens(t *testing.T) {
	t.Parallel()

	pc := testContext()
	token := pc.Registry.Register("https://www.instagram.com/p/ABC123/")

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeContent)).Return(reply(`{"content": [
		{"contextId": "P3", "title": "Hip mobility routine", "citation": "caption of the pinned post", "sourceUrl": "`+token+`", "evidence": "caption walks through five hip drills"}
	]}`), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Mode: ModeContent, Context: pc})
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, "https://www.instagram.com/p/ABC123/", out.Content[0].SourceURL)
	assert.Equal(t, "carol", out.Content[0].ContextID)
}

func TestAnalyzeDeepIsolatesFailingModes(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeStructure)).Return(nil, errors.New("model refused")).Once()
	client.On("GenerateContent", mock.Anything, forMode(ModeCreators)).Return(reply(`{"creators": [
		{"contextId": "P2", "handle": "bob", `+groundedJSON+`}
	]}`), nil).Once()
	client.On("GenerateContent", mock.Anything, forMode(ModeBrands)).Return(reply("```json\n"+`{"brands": [
		{"name": "Hoka", "mentions": 4, `+groundedJSON+`}
	]}`+"\n```"), nil).Once()
	client.On("GenerateContent", mock.Anything, forMode(ModeContent)).Return(reply("I cannot help with that."), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Mode: ModeDeep, Context: testContext()})
	require.NoError(t, err)

	require.Len(t, out.Creators, 1)
	assert.Equal(t, "bob", out.Creators[0].Handle)
	require.Len(t, out.Brands, 1)
	assert.Equal(t, "Hoka", out.Brands[0].Name)
	assert.Empty(t, out.Clusters)
	assert.Empty(t, out.Hashtags)
	client.AssertExpectations(t)
}

func TestAnalyzeRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeBrands)).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 503)).Once()
	client.On("GenerateContent", mock.Anything, forMode(ModeBrands)).
		Return(reply(`{"brands": [{"name": "Garmin", `+groundedJSON+`}]}`), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Mode: ModeBrands, Context: testContext()})
	require.NoError(t, err)

	require.Len(t, out.Brands, 1)
	client.AssertNumberOfCalls(t, "GenerateContent", 2)
}

func TestAnalyzeUnparseableResponseIsEmpty(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("GenerateContent", mock.Anything, forMode(ModeFull)).Return(reply("no json here"), nil).Once()

	e := newTestEngine(client)
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Context: testContext()})
	require.NoError(t, err)
	assert.True(t, out.IsEmpty())
	assert.Nil(t, out.Audit)
}

func TestAnalyzeBuildsContextFromEntries(t *testing.T) {
	t.Parallel()

	var prompt string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return reply(`{}`), nil
	})

	e := newTestEngine(client)
	_, err := e.AnalyzeFandomDeepDive(context.Background(), Request{
		Query:   "runners",
		Mode:    ModeStructure,
		Entries: []promptctx.Entry{{Profile: model.ProfileRecord{Username: "alice"}, Frequency: 1}},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Analysis mode: structure")
	assert.Contains(t, prompt, "Query: runners")
	assert.Contains(t, prompt, "@alice")
}

func TestAnalyzeVerificationAuditsDraft(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&mockClient{})
	draft := &model.Analytics{
		Clusters: []model.Cluster{{ID: "c1", Name: "Cluster 1"}, {ID: "c2", Name: "General Audience"}},
	}
	out, err := e.AnalyzeFandomDeepDive(context.Background(), Request{Query: "runners", Mode: ModeVerification, Draft: draft})
	require.NoError(t, err)

	require.NotNil(t, out.Audit)
	assert.Equal(t, 2, out.Audit.QualityMetrics.GenericNameHits)
	assert.False(t, out.Audit.IsValid)
	assert.Len(t, out.Clusters, 2)
}

func TestDecodeAnalyticsAliases(t *testing.T) {
	t.Parallel()

	a, err := decodeAnalytics(`{"analytics": {"summary": "nested", "tree": {"id": "main"}}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "nested", a.Summary)

	a, err = decodeAnalytics(`{"summary": "flat", "tree": {"id": "main", "label": "@alice"}}`, nil)
	require.NoError(t, err)
	require.NotNil(t, a.Root)
	assert.Equal(t, "@alice", a.Root.Label)

	_, err = decodeAnalytics(`["not", "an", "object"]`, nil)
	var pe *llmjson.ParseError
	assert.True(t, errors.As(err, &pe))
}
