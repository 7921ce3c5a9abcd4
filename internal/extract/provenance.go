package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/promptctx"
)

// Minimum provenance field lengths.
const (
	minEvidenceLen    = 12
	minCitationLen    = 8
	minSearchQueryLen = 3
)

var placeholderWords = []string{"tbd", "n/a", "na", "none", "unknown", "todo", "placeholder", "lorem ipsum", "xxx", "null"}

var fillerWords = []string{"popular", "well-known", "well known", "famous", "trending", "influential", "viral", "notable", "iconic", "relevant"}

var wordPattern = regexp.MustCompile(`[a-z0-9\-/]+`)

// ValidateProvenance returns the reasons p fails grounding; an empty result
// means it passes. Evidence and source URL are mandatory, and at least one
// of citation or search query must be present.
func ValidateProvenance(p model.Provenance) []string {
	var issues []string
	check := func(field, v string, minLen int, required bool) {
		v = strings.TrimSpace(v)
		switch {
		case v == "":
			if required {
				issues = append(issues, field+" is missing")
			}
		case len(v) < minLen:
			issues = append(issues, field+" is too short")
		case isPlaceholder(v):
			issues = append(issues, field+" is a placeholder")
		case isFiller(v):
			issues = append(issues, field+" is vague filler")
		}
	}

	check("evidence", p.Evidence, minEvidenceLen, true)
	check("citation", p.Citation, minCitationLen, false)
	check("searchQuery", p.SearchQuery, minSearchQueryLen, false)
	if strings.TrimSpace(p.Citation) == "" && strings.TrimSpace(p.SearchQuery) == "" {
		issues = append(issues, "citation or searchQuery is required")
	}

	url := strings.TrimSpace(p.SourceURL)
	switch {
	case url == "":
		issues = append(issues, "sourceUrl is missing")
	case !strings.HasPrefix(strings.ToLower(url), "http"):
		issues = append(issues, "sourceUrl is not a URL")
	}
	return issues
}

// Grounded reports whether p passes ValidateProvenance.
func Grounded(p model.Provenance) bool {
	return len(ValidateProvenance(p)) == 0
}

func isPlaceholder(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	for _, w := range placeholderWords {
		if lv == w {
			return true
		}
	}
	return strings.Contains(lv, "tbd") && len(wordPattern.FindAllString(lv, -1)) <= 2
}

// isFiller reports whether v says nothing beyond a vague adjective.
func isFiller(v string) bool {
	words := wordPattern.FindAllString(strings.ToLower(v), -1)
	if len(words) == 0 {
		return true
	}
	content := 0
	for _, w := range words {
		if !containsWord(fillerWords, w) && !containsWord(stopWords, w) {
			content++
		}
	}
	return content == 0
}

var stopWords = []string{"very", "a", "an", "the", "is", "and", "really", "most", "highly", "so", "quite"}

func containsWord(list []string, w string) bool {
	for _, v := range list {
		if v == w {
			return true
		}
	}
	return false
}

// provenanceScore ranks provenance by how much grounding it carries.
func provenanceScore(p model.Provenance) int {
	score := 0
	for _, v := range []string{p.Citation, p.SearchQuery, p.SourceURL, p.Evidence} {
		if strings.TrimSpace(v) != "" {
			score += 10
		}
	}
	score += min(len(p.Evidence), 400) / 40
	if Grounded(p) {
		score += 50
	}
	return score
}

// FilterProvenance drops entities whose provenance fails validation and
// returns how many were dropped.
func FilterProvenance(a *model.Analytics) int {
	if a == nil {
		return 0
	}
	before := entityCount(a)
	a.Clusters = keep(a.Clusters, func(c model.Cluster) bool { return Grounded(c.Provenance) })
	a.Creators = keep(a.Creators, func(c model.Creator) bool { return Grounded(c.Provenance) })
	a.Brands = keep(a.Brands, func(b model.Brand) bool { return Grounded(b.Provenance) })
	a.Topics = keep(a.Topics, func(t model.Topic) bool { return Grounded(t.Provenance) })
	a.Subtopics = keep(a.Subtopics, func(s model.Subtopic) bool { return Grounded(s.Provenance) })
	a.Hashtags = keep(a.Hashtags, func(h model.Hashtag) bool { return Grounded(h.Provenance) })
	a.Content = keep(a.Content, func(c model.ContentItem) bool { return Grounded(c.Provenance) })
	a.NonRelatedInterests = keep(a.NonRelatedInterests, func(n model.NonRelatedInterest) bool { return Grounded(n.Provenance) })
	dropped := before - entityCount(a)
	if a.Root != nil {
		dropped += filterTree(a.Root)
	}
	return dropped
}

// filterTree drops creator and brand nodes whose provenance fails validation.
// Structural nodes keep their place but lose bad provenance, which the graph
// later derives from their linked contributors. It returns the number of
// dropped nodes.
func filterTree(n *model.TreeNode) int {
	dropped := 0
	children := n.Children[:0]
	for _, c := range n.Children {
		switch g := treeGroup(c); {
		case g == model.GroupMain:
		case Grounded(c.Provenance):
		case g == model.GroupCreator || g == model.GroupBrand || (g == "" && c.Handle != ""):
			dropped++
			continue
		default:
			c.Provenance = model.Provenance{}
		}
		dropped += filterTree(c)
		children = append(children, c)
	}
	n.Children = children
	return dropped
}

func treeGroup(n *model.TreeNode) model.Group {
	if g, ok := model.ParseGroup(n.Type); ok {
		return g
	}
	return n.Group
}

func entityCount(a *model.Analytics) int {
	return len(a.Clusters) + len(a.Creators) + len(a.Brands) + len(a.Topics) +
		len(a.Subtopics) + len(a.Hashtags) + len(a.Content) + len(a.NonRelatedInterests)
}

func keep[T any](items []T, ok func(T) bool) []T {
	if items == nil {
		return nil
	}
	out := items[:0]
	for _, it := range items {
		if ok(it) {
			out = append(out, it)
		}
	}
	return out
}

// Ground resolves context ids ("P3", "[P3]") to handles and drops creators,
// cluster members and creator tree nodes that are not in the context. It
// returns how many creators were dropped.
func Ground(a *model.Analytics, pc *promptctx.Context) int {
	if a == nil || pc == nil {
		return 0
	}
	dropped := 0
	creators := a.Creators[:0]
	for _, c := range a.Creators {
		if h, ok := resolveRef(pc, c.ContextID, c.Handle); ok {
			c.Handle = h
			creators = append(creators, c)
			continue
		}
		dropped++
	}
	a.Creators = creators

	for i := range a.Clusters {
		members := a.Clusters[i].Members[:0]
		for _, m := range a.Clusters[i].Members {
			if h, ok := pc.Resolve(m); ok {
				members = append(members, h)
			}
		}
		a.Clusters[i].Members = members
	}

	for i := range a.Content {
		if h, ok := pc.Resolve(a.Content[i].ContextID); ok {
			a.Content[i].ContextID = h
		}
	}

	if a.Root != nil {
		dropped += groundTree(a.Root, pc)
	}
	return dropped
}

func resolveRef(pc *promptctx.Context, refs ...string) (string, bool) {
	for _, r := range refs {
		if strings.TrimSpace(r) == "" {
			continue
		}
		if h, ok := pc.Resolve(r); ok {
			return h, true
		}
	}
	return "", false
}

func groundTree(n *model.TreeNode, pc *promptctx.Context) int {
	dropped := 0
	children := n.Children[:0]
	for _, c := range n.Children {
		g := treeGroup(c)
		if h, ok := resolveRef(pc, c.Handle, c.ID); ok {
			c.Handle = h
			if g == model.GroupCreator || isContextID(c.ID) {
				c.ID = h
			}
		} else if g == model.GroupCreator {
			dropped++
			continue
		}
		dropped += groundTree(c, pc)
		children = append(children, c)
	}
	n.Children = children
	return dropped
}

var contextIDPattern = regexp.MustCompile(`^\[?P\d+\]?$`)

func isContextID(s string) bool {
	return contextIDPattern.MatchString(strings.TrimSpace(s))
}

// nameKey normalizes a display name for keyed merging.
func nameKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Merge combines analytics from several modes. Entities are keyed (creators
// by normalized handle, brands by normalized name, and so on); on a key
// collision the entry with the stronger provenance wins and ties keep the
// earlier part. Parts are taken in argument order, so the result does not
// depend on which call finished first.
func Merge(parts ...*model.Analytics) *model.Analytics {
	out := &model.Analytics{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		if out.Summary == "" {
			out.Summary = p.Summary
		}
		if out.Root == nil {
			out.Root = p.Root
		}
		if out.Visual == nil {
			out.Visual = p.Visual
		}
		if out.Audit == nil {
			out.Audit = p.Audit
		}
		out.Clusters = mergeBy(out.Clusters, p.Clusters, func(c model.Cluster) string {
			if c.ID != "" {
				return graph.NormalizeID(c.ID)
			}
			return nameKey(c.Name)
		}, func(c model.Cluster) model.Provenance { return c.Provenance })
		out.Creators = mergeBy(out.Creators, p.Creators, func(c model.Creator) string { return graph.NormalizeID(c.Handle) },
			func(c model.Creator) model.Provenance { return c.Provenance })
		out.Brands = mergeBy(out.Brands, p.Brands, func(b model.Brand) string { return nameKey(b.Name) },
			func(b model.Brand) model.Provenance { return b.Provenance })
		out.Topics = mergeBy(out.Topics, p.Topics, func(t model.Topic) string { return nameKey(t.Name) },
			func(t model.Topic) model.Provenance { return t.Provenance })
		out.Subtopics = mergeBy(out.Subtopics, p.Subtopics, func(s model.Subtopic) string { return nameKey(s.Name) },
			func(s model.Subtopic) model.Provenance { return s.Provenance })
		out.Hashtags = mergeBy(out.Hashtags, p.Hashtags, func(h model.Hashtag) string { return nameKey(h.Tag) },
			func(h model.Hashtag) model.Provenance { return h.Provenance })
		out.Content = mergeBy(out.Content, p.Content, func(c model.ContentItem) string {
			if c.ContextID != "" {
				return graph.NormalizeID(c.ContextID) + "|" + nameKey(c.Title)
			}
			return nameKey(c.Title)
		}, func(c model.ContentItem) model.Provenance { return c.Provenance })
		out.NonRelatedInterests = mergeBy(out.NonRelatedInterests, p.NonRelatedInterests,
			func(n model.NonRelatedInterest) string { return nameKey(n.Name) },
			func(n model.NonRelatedInterest) model.Provenance { return n.Provenance })
	}
	return out
}

// Dedupe collapses duplicate entities inside a single result.
func Dedupe(a *model.Analytics) *model.Analytics {
	if a == nil {
		return nil
	}
	return Merge(a)
}

func mergeBy[T any](dst, src []T, key func(T) string, prov func(T) model.Provenance) []T {
	index := make(map[string]int, len(dst))
	for i, v := range dst {
		index[key(v)] = i
	}
	for _, v := range src {
		k := key(v)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			if provenanceScore(prov(v)) > provenanceScore(prov(dst[i])) {
				dst[i] = v
			}
			continue
		}
		index[k] = len(dst)
		dst = append(dst, v)
	}
	return dst
}
