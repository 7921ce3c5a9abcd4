package graph

import (
	"strings"
	"unicode"

	"github.com/sells-group/fandom-graph/internal/model"
)

// Default visual weights per group.
var defaultVal = map[model.Group]float64{
	model.GroupMain:               20,
	model.GroupCluster:            8,
	model.GroupTopic:              5,
	model.GroupCreator:            3,
	model.GroupBrand:              3,
	model.GroupSubtopic:           3,
	model.GroupHashtag:            2,
	model.GroupContent:            2,
	model.GroupNonRelatedInterest: 2,
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// NodeProvenance converts extracted provenance into node provenance. It
// returns nil when nothing was supplied.
func NodeProvenance(p model.Provenance) *model.NodeProvenance {
	if p.Empty() && p.Confidence == 0 {
		return nil
	}
	source := p.SourceURL
	if source == "" {
		source = p.Citation
	}
	var evidence []string
	for _, e := range []string{p.Evidence, p.Citation, p.SearchQuery} {
		if e = strings.TrimSpace(e); e != "" && !containsString(evidence, e) {
			evidence = append(evidence, e)
		}
	}
	conf := p.Confidence
	if conf > 1 {
		conf /= 100
	}
	return &model.NodeProvenance{
		Source:     source,
		Method:     "llm_extraction",
		Confidence: conf,
		Evidence:   evidence,
	}
}

// AddAnalytics adds the analytics tree and the flat entity lists. Entities
// attach to their cluster when it exists, otherwise to the first main node.
func (b *Builder) AddAnalytics(a *model.Analytics, mains []Main, results StepResults) error {
	if a == nil {
		return nil
	}
	if a.Root != nil {
		ResolveGroups(a.Root)
		v := &treeVisitor{b: b, mains: mains, results: results, keys: make(map[*model.TreeNode]string)}
		if err := Walk(a.Root, v); err != nil {
			return err
		}
	}
	b.addFlat(a, mains)
	return nil
}

func (b *Builder) anchor(mains []Main) string {
	if len(mains) == 0 {
		return ""
	}
	return mains[0].ID
}

func (b *Builder) attach(mains []Main, parent, child string, value float64) {
	if parent != "" && b.Has(parent) {
		b.AddLink(parent, child, value)
		return
	}
	if a := b.anchor(mains); a != "" {
		b.AddLink(a, child, value)
	}
}

func (b *Builder) addEntity(g model.Group, id, label string, p model.Provenance) string {
	return b.AddNode(model.Node{
		ID:         id,
		Group:      g,
		Label:      label,
		Val:        defaultVal[g],
		Level:      levelOf(g),
		Provenance: NodeProvenance(p),
	})
}

func levelOf(g model.Group) int {
	switch g {
	case model.GroupMain:
		return 0
	case model.GroupCluster, model.GroupTopic, model.GroupHashtag, model.GroupNonRelatedInterest:
		return 1
	case model.GroupCreator, model.GroupBrand, model.GroupSubtopic:
		return 2
	default:
		return 3
	}
}

func (b *Builder) addFlat(a *model.Analytics, mains []Main) {
	for _, c := range a.Clusters {
		id := c.ID
		if strings.TrimSpace(id) == "" {
			id = CompositeID("cluster", slug(c.Name))
		}
		key := b.addEntity(model.GroupCluster, id, c.Name, c.Provenance)
		if key == "" {
			continue
		}
		for _, m := range mains {
			b.AddLink(m.ID, key, 2)
		}
		for _, member := range c.Members {
			mk := b.AddNode(model.Node{ID: member, Group: model.GroupCreator, Val: defaultVal[model.GroupCreator], Level: 2})
			b.AddLink(key, mk, 1)
		}
	}

	for _, c := range a.Creators {
		key := b.addEntity(model.GroupCreator, c.Handle, HandleLabel(c.Handle), c.Provenance)
		if key != "" {
			b.attach(mains, c.ClusterID, key, 1)
		}
	}

	for _, br := range a.Brands {
		id := br.Handle
		if strings.TrimSpace(id) == "" {
			id = slug(br.Name)
		}
		key := b.addEntity(model.GroupBrand, id, br.Name, br.Provenance)
		if key != "" {
			b.attach(mains, br.ClusterID, key, float64(max(1, br.Mentions)))
		}
	}

	topicKeys := make(map[string]string)
	for _, t := range a.Topics {
		id := t.ID
		if strings.TrimSpace(id) == "" {
			id = CompositeID("topic", slug(t.Name))
		}
		key := b.addEntity(model.GroupTopic, id, t.Name, t.Provenance)
		if key == "" {
			continue
		}
		topicKeys[slug(t.Name)] = key
		b.attach(mains, t.ClusterID, key, 1)
	}

	for _, s := range a.Subtopics {
		key := b.addEntity(model.GroupSubtopic, CompositeID("subtopic", slug(s.Name)), s.Name, s.Provenance)
		if key != "" {
			b.attach(mains, topicKeys[slug(s.Parent)], key, 1)
		}
	}

	for _, h := range a.Hashtags {
		tag := strings.TrimPrefix(strings.TrimSpace(h.Tag), "#")
		if tag == "" {
			continue
		}
		key := b.addEntity(model.GroupHashtag, "#"+tag, "", h.Provenance)
		b.attach(mains, "", key, float64(max(1, h.Count)))
	}

	for _, c := range a.Content {
		ref := c.ContextID
		if ref == "" {
			ref = slug(c.Title)
		}
		key := b.addEntity(model.GroupContent, CompositeID("content", slug(ref)), c.Title, c.Provenance)
		if key != "" {
			b.attach(mains, "", key, 1)
		}
	}

	for _, n := range a.NonRelatedInterests {
		key := b.addEntity(model.GroupNonRelatedInterest, CompositeID("interest", slug(n.Name)), n.Name, n.Provenance)
		if key != "" {
			b.attach(mains, "", key, 1)
		}
	}
}

// treeVisitor adds tree nodes to a Builder, linking each to its parent.
type treeVisitor struct {
	b       *Builder
	mains   []Main
	results StepResults
	keys    map[*model.TreeNode]string
	// extra holds main nodes the tree introduced beyond the plan targets.
	extra []Main
}

func (v *treeVisitor) add(at Visit, id, label string) error {
	n := at.Node
	val := n.Val
	if val <= 0 {
		val = defaultVal[n.Group]
	}
	key := v.b.AddNode(model.Node{
		ID:         id,
		Group:      n.Group,
		Label:      label,
		Val:        val,
		Level:      at.Depth,
		Provenance: NodeProvenance(n.Provenance),
	})
	v.keys[n] = key
	if at.Parent != nil {
		v.b.AddLink(v.keys[at.Parent], key, 1)
	}
	return nil
}

// resolveRef substitutes a placeholder with the first handle its step found.
func (v *treeVisitor) resolveRef(ref string) string {
	stepID, ok := PlaceholderStep(ref)
	if !ok {
		return ref
	}
	if hs := v.results.Handles(stepID); len(hs) > 0 {
		return hs[0]
	}
	return ""
}

func (v *treeVisitor) profileRef(n *model.TreeNode) string {
	if n.Handle != "" {
		return v.resolveRef(n.Handle)
	}
	return v.resolveRef(n.ID)
}

func (v *treeVisitor) VisitMain(at Visit) error {
	n := at.Node
	handle := NormalizeID(v.profileRef(n))
	for _, known := range [][]Main{v.mains, v.extra} {
		for _, m := range known {
			if m.Handle == handle || m.ID == strings.TrimSpace(n.ID) {
				return v.add(at, m.ID, HandleLabel(m.Handle))
			}
		}
	}
	if at.Depth == 0 && len(v.mains) > 0 {
		return v.add(at, v.mains[0].ID, HandleLabel(v.mains[0].Handle))
	}
	label := n.Label
	if label == "" || strings.HasPrefix(label, model.PlaceholderPrefix) {
		label = HandleLabel(handle)
	}
	m := Main{ID: MainID(len(v.mains) + len(v.extra)), Handle: handle}
	v.extra = append(v.extra, m)
	return v.add(at, m.ID, label)
}

func (v *treeVisitor) VisitCluster(at Visit) error {
	return v.add(at, at.Node.ID, at.Node.Label)
}

func (v *treeVisitor) VisitCreator(at Visit) error {
	ref := v.profileRef(at.Node)
	label := at.Node.Label
	if label == "" || strings.HasPrefix(label, model.PlaceholderPrefix) {
		label = HandleLabel(ref)
	}
	return v.add(at, ref, label)
}

func (v *treeVisitor) VisitBrand(at Visit) error {
	return v.add(at, v.profileRef(at.Node), at.Node.Label)
}

func (v *treeVisitor) VisitTopic(at Visit) error {
	return v.add(at, at.Node.ID, at.Node.Label)
}

func (v *treeVisitor) VisitSubtopic(at Visit) error {
	return v.add(at, at.Node.ID, at.Node.Label)
}

func (v *treeVisitor) VisitHashtag(at Visit) error {
	id := at.Node.ID
	if !strings.HasPrefix(id, "#") {
		tag := at.Node.Label
		if tag == "" {
			tag = id
		}
		id = "#" + slug(strings.TrimPrefix(tag, "#"))
	}
	return v.add(at, id, at.Node.Label)
}

func (v *treeVisitor) VisitContent(at Visit) error {
	return v.add(at, at.Node.ID, at.Node.Label)
}

func (v *treeVisitor) VisitNonRelatedInterest(at Visit) error {
	return v.add(at, at.Node.ID, at.Node.Label)
}
