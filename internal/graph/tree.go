package graph

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/model"
)

// Visit is the position of one tree node during a walk.
type Visit struct {
	Node   *model.TreeNode
	Parent *model.TreeNode
	Depth  int
}

// Visitor has one method per node group.
type Visitor interface {
	VisitMain(Visit) error
	VisitCluster(Visit) error
	VisitCreator(Visit) error
	VisitBrand(Visit) error
	VisitTopic(Visit) error
	VisitSubtopic(Visit) error
	VisitHashtag(Visit) error
	VisitContent(Visit) error
	VisitNonRelatedInterest(Visit) error
}

// Walk visits root and its descendants depth-first, parents before
// children. Groups must already be resolved with ResolveGroups.
func Walk(root *model.TreeNode, v Visitor) error {
	return walk(Visit{Node: root}, v)
}

func walk(at Visit, v Visitor) error {
	if at.Node == nil {
		return nil
	}
	if err := dispatch(at, v); err != nil {
		return err
	}
	for _, child := range at.Node.Children {
		if err := walk(Visit{Node: child, Parent: at.Node, Depth: at.Depth + 1}, v); err != nil {
			return err
		}
	}
	return nil
}

func dispatch(at Visit, v Visitor) error {
	switch at.Node.Group {
	case model.GroupMain:
		return v.VisitMain(at)
	case model.GroupCluster:
		return v.VisitCluster(at)
	case model.GroupCreator:
		return v.VisitCreator(at)
	case model.GroupBrand:
		return v.VisitBrand(at)
	case model.GroupTopic:
		return v.VisitTopic(at)
	case model.GroupSubtopic:
		return v.VisitSubtopic(at)
	case model.GroupHashtag:
		return v.VisitHashtag(at)
	case model.GroupContent:
		return v.VisitContent(at)
	case model.GroupNonRelatedInterest:
		return v.VisitNonRelatedInterest(at)
	}
	return eris.Errorf("graph: node %q has unresolved group %q", at.Node.ID, at.Node.Group)
}

// ResolveGroups assigns a Group to every node of the tree. An explicit
// group wins, then the raw type, then the id prefix, then depth. Nodes
// without an id get one derived from their label.
func ResolveGroups(root *model.TreeNode) {
	resolve(root, 0)
}

func resolve(n *model.TreeNode, depth int) {
	if n == nil {
		return
	}
	n.Group = inferGroup(n, depth)
	if strings.TrimSpace(n.ID) == "" {
		n.ID = fallbackID(n)
	}
	for _, c := range n.Children {
		resolve(c, depth+1)
	}
}

func inferGroup(n *model.TreeNode, depth int) model.Group {
	if g, ok := model.ParseGroup(string(n.Group)); ok {
		return g
	}
	if g, ok := model.ParseGroup(n.Type); ok {
		return g
	}
	if g, ok := groupFromID(n.ID); ok {
		return g
	}
	return groupForDepth(depth)
}

// idPrefixes is ordered so "subtopic" is tried before "topic".
var idPrefixes = []struct {
	prefix string
	group  model.Group
}{
	{"main", model.GroupMain},
	{"root", model.GroupMain},
	{"cluster", model.GroupCluster},
	{"community", model.GroupCluster},
	{"subtopic", model.GroupSubtopic},
	{"topic", model.GroupTopic},
	{"creator", model.GroupCreator},
	{"brand", model.GroupBrand},
	{"hashtag", model.GroupHashtag},
	{"content", model.GroupContent},
	{"post", model.GroupContent},
	{"interest", model.GroupNonRelatedInterest},
	{"nri", model.GroupNonRelatedInterest},
}

func groupFromID(id string) (model.Group, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if strings.HasPrefix(id, "#") {
		return model.GroupHashtag, true
	}
	for _, p := range idPrefixes {
		rest, ok := strings.CutPrefix(id, p.prefix)
		if !ok {
			continue
		}
		if rest == "" || rest[0] == '_' || rest[0] == '-' || rest[0] == ':' || unicode.IsDigit(rune(rest[0])) {
			return p.group, true
		}
	}
	return "", false
}

func groupForDepth(depth int) model.Group {
	switch depth {
	case 0:
		return model.GroupMain
	case 1:
		return model.GroupCluster
	case 2:
		return model.GroupCreator
	default:
		return model.GroupContent
	}
}

func fallbackID(n *model.TreeNode) string {
	if n.Handle != "" {
		return NormalizeID(n.Handle)
	}
	label := strings.Join(strings.Fields(strings.ToLower(n.Label)), "_")
	return CompositeID(string(n.Group), label)
}
