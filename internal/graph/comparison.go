package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/fandom-graph/internal/model"
)

// Main is a target profile at the centre of a graph.
type Main struct {
	ID     string
	Handle string
}

// Mains resolves the target handles of a plan into main nodes. Plan targets
// win; otherwise the handle inputs of the first step naming profiles are
// used, with placeholders resolved against results. The query's @handles
// are the last resort.
func Mains(plan *model.Plan, results StepResults, query string) []Main {
	var handles []string
	if plan != nil {
		if len(plan.Targets) > 0 {
			handles = ResolveHandles(plan.Targets, results)
		}
		for _, s := range plan.Steps {
			if len(handles) > 0 {
				break
			}
			handles = stepHandles(s, results)
		}
	}
	if len(handles) == 0 {
		handles = QueryHandles(query)
	}

	out := make([]Main, len(handles))
	for i, h := range handles {
		out[i] = Main{ID: MainID(i), Handle: h}
	}
	return out
}

// QueryHandles returns the distinct @handles mentioned in a query.
func QueryHandles(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(query) {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		h := NormalizeID(strings.TrimRight(f, ".,;:!?)'\""))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// AddMains inserts one main node per target.
func (b *Builder) AddMains(mains []Main) {
	for _, m := range mains {
		b.AddNode(model.Node{
			ID:    m.ID,
			Group: model.GroupMain,
			Label: HandleLabel(m.Handle),
			Val:   20,
			Level: 0,
		})
	}
}

// originKeys name the item fields actors use to say which input produced it.
var originKeys = []string{"sourceUsername", "inputUsername", "targetUsername", "followedUsername", "source_username"}

func itemOrigin(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	for _, k := range originKeys {
		var s string
		if v, ok := fields[k]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			return NormalizeID(s)
		}
	}
	return ""
}

type scraped struct {
	handle  string
	profile model.ProfileRecord
	mains   map[string]bool
	steps   []string
}

// AddComparison adds a creator node for every profile found in the step
// results and links it to the main node(s) it came from. Profiles shared
// by several mains get a proportionally higher weight.
func (b *Builder) AddComparison(plan *model.Plan, results StepResults, mains []Main) {
	if plan == nil || len(mains) == 0 {
		return
	}
	byHandle := make(map[string]Main, len(mains))
	labels := make(map[string]string, len(mains))
	for _, m := range mains {
		byHandle[m.Handle] = m
		labels[m.ID] = HandleLabel(m.Handle)
	}

	var order []string
	found := make(map[string]*scraped)
	for _, step := range plan.Steps {
		for _, raw := range results.Items(step.StepID) {
			var rec model.ProfileRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				continue
			}
			h := NormalizeID(rec.Username)
			if h == "" {
				continue
			}
			if _, isMain := byHandle[h]; isMain {
				continue
			}
			s, ok := found[h]
			if !ok {
				s = &scraped{handle: h, mains: make(map[string]bool)}
				found[h] = s
				order = append(order, h)
			}
			if step.Kind != model.ActorKindPosts {
				mergeRecord(&s.profile, rec)
			}
			if !containsString(s.steps, step.StepID) {
				s.steps = append(s.steps, step.StepID)
			}
			if m, ok := byHandle[itemOrigin(raw)]; ok {
				s.mains[m.ID] = true
			} else {
				s.mains[mains[0].ID] = true
			}
		}
	}

	for _, h := range order {
		s := found[h]
		weight := float64(len(s.mains))
		mainIDs := make([]string, 0, len(s.mains))
		for id := range s.mains {
			mainIDs = append(mainIDs, id)
		}
		sort.Strings(mainIDs)

		evidence := make([]string, 0, len(mainIDs))
		for _, id := range mainIDs {
			evidence = append(evidence, fmt.Sprintf("found in %s for %s", strings.Join(s.steps, ","), labels[id]))
		}
		b.AddNode(model.Node{
			ID:    h,
			Group: model.GroupCreator,
			Label: HandleLabel(h),
			Val:   weight,
			Level: 1,
			Data:  ProfileData(s.profile),
			Provenance: &model.NodeProvenance{
				Source:     strings.Join(s.steps, "+"),
				Method:     "scrape",
				Confidence: 1,
				Evidence:   evidence,
			},
		})
		for _, id := range mainIDs {
			b.AddLink(id, h, weight)
		}
	}
}

func mergeRecord(dst *model.ProfileRecord, src model.ProfileRecord) {
	if dst.Username == "" {
		*dst = src
		return
	}
	*dst, _ = NewProfileIndex(*dst, src).Lookup(dst.Username)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// AllItems returns every item across steps, in step id order.
func (r StepResults) AllItems() []json.RawMessage {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []json.RawMessage
	for _, id := range ids {
		out = append(out, r.Items(id)...)
	}
	return out
}

// GenerateComparisonGraph builds a graph of the plan's targets and the
// profiles each step found for them, hydrated from the same results.
func GenerateComparisonGraph(plan *model.Plan, results StepResults, query string) model.Graph {
	b := NewBuilder()
	mains := Mains(plan, results, query)
	b.AddMains(mains)
	b.AddComparison(plan, results, mains)

	g := b.Graph()
	Hydrate(&g, IndexItems(results.AllItems()))
	return g
}
