package graph

import (
	"strings"

	"github.com/sells-group/fandom-graph/internal/model"
)

const maxTopologyEvidence = 5

// Builder accumulates nodes and links, merging duplicates by normalized id.
// A Builder is not safe for concurrent use.
type Builder struct {
	order  []string
	nodes  map[string]*model.Node
	links  map[[2]string]float64
	lorder [][2]string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]*model.Node),
		links: make(map[[2]string]float64),
	}
}

// Len returns the number of distinct nodes.
func (b *Builder) Len() int { return len(b.order) }

// Has reports whether a node with the given id exists.
func (b *Builder) Has(id string) bool {
	_, ok := b.nodes[nodeKey(id)]
	return ok
}

// AddNode inserts n or merges it into the existing node with the same
// normalized id, and returns the key it is stored under.
func (b *Builder) AddNode(n model.Node) string {
	key := nodeKey(n.ID)
	if key == "" {
		return ""
	}
	n.ID = key
	n.Label = labelFor(n.Group, key, n.Label)

	existing, ok := b.nodes[key]
	if !ok {
		cp := n
		b.nodes[key] = &cp
		b.order = append(b.order, key)
		return key
	}
	mergeNode(existing, n)
	return key
}

// mergeNode folds src into dst. The richer provenance survives; data fields
// are only ever filled, never blanked.
func mergeNode(dst *model.Node, src model.Node) {
	if src.Provenance.Richness() > dst.Provenance.Richness() {
		p := *src.Provenance
		dst.Provenance = &p
	}
	MergeData(&dst.Data, src.Data)
	if src.Val > dst.Val {
		dst.Val = src.Val
	}
	if src.Level < dst.Level {
		dst.Level = src.Level
	}
	if dst.Label == "" || dst.Label == dst.ID {
		dst.Label = src.Label
	}
	if dst.Group == "" {
		dst.Group = src.Group
	}
}

// MergeData copies non-empty fields of src over dst. Empty src fields never
// clear a populated dst field.
func MergeData(dst *model.NodeData, src model.NodeData) {
	if s := strings.TrimSpace(src.Bio); s != "" {
		dst.Bio = s
	}
	if src.Followers > 0 {
		dst.Followers = src.Followers
	}
	if src.Following > 0 {
		dst.Following = src.Following
	}
	if src.Posts > 0 {
		dst.Posts = src.Posts
	}
	if src.ProfilePicURL != "" {
		dst.ProfilePicURL = src.ProfilePicURL
	}
	if src.ExternalURL != "" {
		dst.ExternalURL = src.ExternalURL
	}
	if src.FullName != "" {
		dst.FullName = src.FullName
	}
}

// AddLink records an edge. Duplicate edges collapse to the largest value;
// self-loops are ignored.
func (b *Builder) AddLink(source, target string, value float64) {
	s, t := nodeKey(source), nodeKey(target)
	if s == "" || t == "" || s == t {
		return
	}
	k := [2]string{s, t}
	cur, ok := b.links[k]
	if !ok {
		b.lorder = append(b.lorder, k)
		b.links[k] = value
		return
	}
	if value > cur {
		b.links[k] = value
	}
}

// Graph returns the accumulated graph. Links whose endpoints do not exist
// are dropped, and nodes missing provenance get one derived from topology.
func (b *Builder) Graph() model.Graph {
	g := model.Graph{
		Nodes: make([]model.Node, 0, len(b.order)),
		Links: make([]model.Link, 0, len(b.lorder)),
	}
	for _, k := range b.lorder {
		if b.nodes[k[0]] == nil || b.nodes[k[1]] == nil {
			continue
		}
		g.Links = append(g.Links, model.Link{Source: k[0], Target: k[1], Value: b.links[k]})
	}
	for _, id := range b.order {
		g.Nodes = append(g.Nodes, *b.nodes[id])
	}
	fillProvenance(&g)
	return g
}

// fillProvenance derives provenance for non-main nodes the model left bare.
// Clusters and topics cite their linked contributors.
func fillProvenance(g *model.Graph) {
	neighbours := make(map[string][]string)
	groups := make(map[string]model.Group, len(g.Nodes))
	for _, n := range g.Nodes {
		groups[n.ID] = n.Group
	}
	for _, l := range g.Links {
		neighbours[l.Target] = append(neighbours[l.Target], l.Source)
		neighbours[l.Source] = append(neighbours[l.Source], l.Target)
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Group == model.GroupMain || n.Provenance != nil {
			continue
		}
		var evidence []string
		if n.Group.Structural() {
			for _, id := range neighbours[n.ID] {
				if groups[id].ProfileBacked() && groups[id] != model.GroupMain {
					evidence = append(evidence, HandleLabel(id))
				}
				if len(evidence) == maxTopologyEvidence {
					break
				}
			}
		}
		if len(evidence) > 0 {
			n.Provenance = &model.NodeProvenance{
				Source:     "graph_topology",
				Method:     "linked_contributors",
				Confidence: 0.6,
				Evidence:   evidence,
			}
			continue
		}
		n.Provenance = &model.NodeProvenance{
			Source:     "analysis",
			Method:     "inferred",
			Confidence: 0.4,
		}
	}
}
