// Package enrich finds graph nodes that lack profile data and fills them in
// the background by re-scraping their profiles.
package enrich

import (
	"regexp"
	"strings"

	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// DetectGaps returns one gap per profile-backed node (main, creator, brand)
// that is missing a bio, a follower count or a picture. Nodes without a
// usable handle are ignored.
func DetectGaps(g *model.Graph) []model.EnrichmentGap {
	if g == nil {
		return nil
	}
	var gaps []model.EnrichmentGap
	for _, n := range g.Nodes {
		if !n.Group.ProfileBacked() {
			continue
		}
		var missing []string
		if strings.TrimSpace(n.Data.Bio) == "" {
			missing = append(missing, "bio")
		}
		if n.Data.Followers <= 0 {
			missing = append(missing, "followers")
		}
		if n.Data.ProfilePicURL == "" {
			missing = append(missing, "picture")
		}
		if len(missing) == 0 {
			continue
		}
		handle := nodeHandle(n)
		if handle == "" {
			continue
		}
		gaps = append(gaps, model.EnrichmentGap{
			NodeID: n.ID,
			Handle: handle,
			Reason: "missing " + strings.Join(missing, ", "),
		})
	}
	return gaps
}

// IdentifyEnrichmentGaps returns the distinct handles of DetectGaps in graph order.
func IdentifyEnrichmentGaps(g *model.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, gap := range DetectGaps(g) {
		if seen[gap.Handle] {
			continue
		}
		seen[gap.Handle] = true
		out = append(out, gap.Handle)
	}
	return out
}

// nodeHandle prefers an "@handle" label. Main node ids are positional, so
// mains only ever use their label.
func nodeHandle(n model.Node) string {
	var candidates []string
	switch {
	case n.Group == model.GroupMain:
		candidates = []string{n.Label}
	case strings.HasPrefix(strings.TrimSpace(n.Label), "@"):
		candidates = []string{n.Label, n.ID}
	default:
		candidates = []string{n.ID}
	}
	for _, c := range candidates {
		h := graph.NormalizeID(c)
		if handlePattern.MatchString(h) {
			return h
		}
	}
	return ""
}
