package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fandom-graph/internal/model"
)

func TestBuilder_DedupKeepsRicherProvenance(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddNode(model.Node{ID: "@Runner", Group: model.GroupCreator,
		Provenance: &model.NodeProvenance{Source: "llm", Confidence: 0.5}})
	b.AddNode(model.Node{ID: "runner", Group: model.GroupCreator,
		Provenance: &model.NodeProvenance{Source: "https://instagram.com/runner", Method: "llm_extraction", Confidence: 0.9,
			Evidence: []string{"[P3] bio mentions marathon training", "posted #nikerunning"}}})
	b.AddNode(model.Node{ID: "RUNNER ", Group: model.GroupCreator,
		Provenance: &model.NodeProvenance{Source: "x"}})

	g := b.Graph()
	require.Len(t, g.Nodes, 1)
	n := g.Nodes[0]
	assert.Equal(t, "runner", n.ID)
	assert.Equal(t, "@runner", n.Label)
	require.NotNil(t, n.Provenance)
	assert.Len(t, n.Provenance.Evidence, 2)
	assert.Equal(t, 0.9, n.Provenance.Confidence)
}

func TestBuilder_MergeNeverBlanksData(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddNode(model.Node{ID: "a", Group: model.GroupCreator, Data: model.NodeData{Bio: "first", Followers: 10}})
	b.AddNode(model.Node{ID: "A", Group: model.GroupCreator, Data: model.NodeData{Followers: 20, ProfilePicURL: "https://pic"}})

	g := b.Graph()
	want := model.NodeData{Bio: "first", Followers: 20, ProfilePicURL: "https://pic"}
	if diff := cmp.Diff(want, g.Nodes[0].Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_Links(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddNode(model.Node{ID: "MAIN_0", Group: model.GroupMain, Label: "@nike"})
	b.AddNode(model.Node{ID: "a", Group: model.GroupCreator})
	b.AddLink("MAIN_0", "a", 1)
	b.AddLink("MAIN_0", "@A", 3)
	b.AddLink("MAIN_0", "a", 2)
	b.AddLink("a", "ghost", 1)
	b.AddLink("a", "A", 5)

	g := b.Graph()
	want := []model.Link{{Source: "MAIN_0", Target: "a", Value: 3}}
	if diff := cmp.Diff(want, g.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_ProvenanceFallbackFromTopology(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddNode(model.Node{ID: "MAIN_0", Group: model.GroupMain})
	b.AddNode(model.Node{ID: "cluster_runners", Group: model.GroupCluster, Label: "Runners"})
	b.AddNode(model.Node{ID: "topic_gear", Group: model.GroupTopic, Label: "Gear"})
	b.AddNode(model.Node{ID: "a", Group: model.GroupCreator})
	b.AddNode(model.Node{ID: "b", Group: model.GroupCreator})
	b.AddLink("MAIN_0", "cluster_runners", 1)
	b.AddLink("cluster_runners", "a", 1)
	b.AddLink("b", "cluster_runners", 1)

	g := b.Graph()

	assert.Nil(t, g.NodeByID("MAIN_0").Provenance)

	cluster := g.NodeByID("cluster_runners")
	require.NotNil(t, cluster.Provenance)
	assert.Equal(t, "graph_topology", cluster.Provenance.Source)
	assert.ElementsMatch(t, []string{"@a", "@b"}, cluster.Provenance.Evidence)

	topic := g.NodeByID("topic_gear")
	require.NotNil(t, topic.Provenance)
	assert.Equal(t, "inferred", topic.Provenance.Method)

	for _, n := range g.Nodes {
		if n.Group != model.GroupMain {
			assert.NotNil(t, n.Provenance, "node %s", n.ID)
		}
	}
}

func TestAddAnalytics_FlatEntities(t *testing.T) {
	t.Parallel()

	a := &model.Analytics{
		Clusters: []model.Cluster{{ID: "cluster_1", Name: "Runners", Members: []string{"@Pacer"}}},
		Creators: []model.Creator{
			{Handle: "Pacer", ClusterID: "cluster_1", Provenance: model.Provenance{Evidence: "[P1] marathon bio", Confidence: 80}},
			{Handle: "pacer", ClusterID: "cluster_1"},
		},
		Brands:   []model.Brand{{Name: "Hoka One", ClusterID: "missing"}},
		Hashtags: []model.Hashtag{{Tag: "#RunClub", Count: 4}},
		Topics:   []model.Topic{{Name: "Trail running"}},
		Subtopics: []model.Subtopic{{Name: "Ultras", Parent: "Trail running"}},
	}
	mains := []Main{{ID: "MAIN_0", Handle: "nike"}}

	b := NewBuilder()
	b.AddMains(mains)
	require.NoError(t, b.AddAnalytics(a, mains, nil))
	g := b.Graph()

	pacer := g.NodeByID("pacer")
	require.NotNil(t, pacer)
	require.NotNil(t, pacer.Provenance)
	assert.Equal(t, 0.8, pacer.Provenance.Confidence)
	assert.Equal(t, []string{"[P1] marathon bio"}, pacer.Provenance.Evidence)

	require.NotNil(t, g.NodeByID("hoka_one"))
	require.NotNil(t, g.NodeByID("#runclub"))
	assert.Equal(t, "#runclub", g.NodeByID("#runclub").Label)
	require.NotNil(t, g.NodeByID("subtopic_ultras"))

	links := map[string]float64{}
	for _, l := range g.Links {
		links[l.Source+">"+l.Target] = l.Value
	}
	assert.Contains(t, links, "cluster_1>pacer")
	assert.Contains(t, links, "MAIN_0>hoka_one")
	assert.Equal(t, 4.0, links["MAIN_0>#runclub"])
	assert.Contains(t, links, "topic_trail_running>subtopic_ultras")

	count := 0
	for _, n := range g.Nodes {
		if n.ID == "pacer" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
