package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/model"
)

type countingVisitor struct {
	seen   map[model.Group][]string
	depths map[string]int
}

func newCountingVisitor() *countingVisitor {
	return &countingVisitor{seen: map[model.Group][]string{}, depths: map[string]int{}}
}

func (c *countingVisitor) record(at Visit) error {
	c.seen[at.Node.Group] = append(c.seen[at.Node.Group], at.Node.ID)
	c.depths[at.Node.ID] = at.Depth
	return nil
}

func (c *countingVisitor) VisitMain(at Visit) error               { return c.record(at) }
func (c *countingVisitor) VisitCluster(at Visit) error            { return c.record(at) }
func (c *countingVisitor) VisitCreator(at Visit) error            { return c.record(at) }
func (c *countingVisitor) VisitBrand(at Visit) error              { return c.record(at) }
func (c *countingVisitor) VisitTopic(at Visit) error              { return c.record(at) }
func (c *countingVisitor) VisitSubtopic(at Visit) error           { return c.record(at) }
func (c *countingVisitor) VisitHashtag(at Visit) error            { return c.record(at) }
func (c *countingVisitor) VisitContent(at Visit) error            { return c.record(at) }
func (c *countingVisitor) VisitNonRelatedInterest(at Visit) error { return c.record(at) }

func decodeTree(t *testing.T, s string) *model.TreeNode {
	t.Helper()
	var root model.TreeNode
	require.NoError(t, json.Unmarshal([]byte(s), &root))
	return &root
}

func TestResolveGroups(t *testing.T) {
	t.Parallel()

	root := decodeTree(t, `{"id":"root","children":[
		{"id":"cluster_1","children":[
			{"id":"steve_lamacq"},
			{"id":"x","type":"Brand"},
			{"id":"brandon"}
		]},
		{"id":"topic_2","children":[{"id":"subtopic_a"}]},
		{"id":"#vinyl"},
		{"label":"Film Photography","type":"interest"},
		{"id":"community-3","group":"brand"}
	]}`)

	ResolveGroups(root)
	v := newCountingVisitor()
	require.NoError(t, Walk(root, v))

	assert.Equal(t, []string{"root"}, v.seen[model.GroupMain])
	assert.Equal(t, []string{"cluster_1"}, v.seen[model.GroupCluster])
	assert.Equal(t, []string{"steve_lamacq", "brandon"}, v.seen[model.GroupCreator])
	assert.Equal(t, []string{"x", "community-3"}, v.seen[model.GroupBrand])
	assert.Equal(t, []string{"topic_2"}, v.seen[model.GroupTopic])
	assert.Equal(t, []string{"subtopic_a"}, v.seen[model.GroupSubtopic])
	assert.Equal(t, []string{"#vinyl"}, v.seen[model.GroupHashtag])
	assert.Equal(t, []string{"nonRelatedInterest_film_photography"}, v.seen[model.GroupNonRelatedInterest])
	assert.Equal(t, 2, v.depths["steve_lamacq"])
}

func TestWalk_UnresolvedGroup(t *testing.T) {
	t.Parallel()

	root := &model.TreeNode{ID: "r", Group: "mystery"}
	err := Walk(root, newCountingVisitor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestAddAnalytics_TreeUsesMainAndResolvesPlaceholders(t *testing.T) {
	t.Parallel()

	root := decodeTree(t, `{"id":"root","label":"@USE_DATA_FROM_STEP_step_1","children":[
		{"id":"cluster_1","label":"Runners","children":[
			{"id":"@USE_DATA_FROM_STEP_step_2"},
			{"id":"Pacer ","label":""}
		]}
	]}`)
	results := StepResults{"step_2": {raw(`{"username":"found_creator"}`)}}
	mains := []Main{{ID: "MAIN_0", Handle: "nike"}}

	b := NewBuilder()
	b.AddMains(mains)
	require.NoError(t, b.AddAnalytics(&model.Analytics{Root: root}, mains, results))
	g := b.Graph()

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"MAIN_0", "cluster_1", "found_creator", "pacer"}, ids)
	assert.Equal(t, "@found_creator", g.NodeByID("found_creator").Label)
	assert.Equal(t, "@nike", g.NodeByID("MAIN_0").Label)

	links := map[string]bool{}
	for _, l := range g.Links {
		links[l.Source+">"+l.Target] = true
	}
	assert.True(t, links["MAIN_0>cluster_1"])
	assert.True(t, links["cluster_1>found_creator"])
	assert.True(t, links["cluster_1>pacer"])
}

func TestAddAnalytics_ExtraMainsNumberedAfterTargets(t *testing.T) {
	t.Parallel()

	root := decodeTree(t, `{"id":"root","type":"main","label":"@nike","children":[
		{"id":"adidas","type":"main","label":"@adidas"},
		{"id":"puma","type":"main","label":"@puma"},
		{"id":"cluster_1","label":"Runners","type":"cluster","children":[
			{"id":"adidas","type":"main"}
		]}
	]}`)
	mains := []Main{{ID: "MAIN_0", Handle: "nike"}}

	b := NewBuilder()
	b.AddMains(mains)
	require.NoError(t, b.AddAnalytics(&model.Analytics{Root: root}, mains, nil))
	g := b.Graph()

	var ids []string
	for _, n := range g.Nodes {
		if n.Group == model.GroupMain {
			ids = append(ids, n.ID)
		}
	}
	assert.ElementsMatch(t, []string{"MAIN_0", "MAIN_1", "MAIN_2"}, ids)
	assert.Equal(t, "@adidas", g.NodeByID("MAIN_1").Label)
	assert.Equal(t, "@puma", g.NodeByID("MAIN_2").Label)

	links := map[string]bool{}
	for _, l := range g.Links {
		links[l.Source+">"+l.Target] = true
	}
	assert.True(t, links["MAIN_0>MAIN_1"])
	assert.True(t, links["cluster_1>MAIN_1"])
}
