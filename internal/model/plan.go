package model

// ActorKind classifies a scrape actor by the shape and cost behaviour of its output.
type ActorKind string

const (
	ActorKindProfile   ActorKind = "profile"
	ActorKindFollowers ActorKind = "followers"
	ActorKindFollowing ActorKind = "following"
	ActorKindPosts     ActorKind = "posts"
	ActorKindSearch    ActorKind = "search"
	ActorKindHashtag   ActorKind = "hashtag"
)

// Intent names the analysis a plan is built for.
type Intent string

const (
	IntentFandomMap      Intent = "fandom_map"
	IntentComparisonMap  Intent = "comparison_map"
	IntentHashtagMap     Intent = "hashtag_map"
	IntentTopicDiscovery Intent = "topic_discovery"
)

// PlaceholderPrefix marks a step input value that refers to another step's output.
const PlaceholderPrefix = "@USE_DATA_FROM_STEP_"

// PlanStep is one external scrape in a plan.
type PlanStep struct {
	StepID           string         `json:"stepId"`
	ActorID          string         `json:"actorId"`
	Kind             ActorKind      `json:"kind"`
	Description      string         `json:"description,omitempty"`
	Input            map[string]any `json:"input"`
	EstimatedRecords int            `json:"estimatedRecords"`
	EstimatedCost    float64        `json:"estimatedCost"`
	Cached           bool           `json:"cached,omitempty"`
}

// DependsOn returns the step ids referenced through placeholders in the input.
func (s PlanStep) DependsOn() []string {
	var deps []string
	seen := map[string]bool{}
	for _, v := range s.Input {
		for _, str := range stringValues(v) {
			if len(str) > len(PlaceholderPrefix) && str[:len(PlaceholderPrefix)] == PlaceholderPrefix {
				id := str[len(PlaceholderPrefix):]
				if !seen[id] {
					seen[id] = true
					deps = append(deps, id)
				}
			}
		}
	}
	return deps
}

// Primary reports whether the step has no dependency on another step.
func (s PlanStep) Primary() bool {
	return len(s.DependsOn()) == 0
}

func stringValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ReusedDataset describes an existing dataset a plan draws on.
type ReusedDataset struct {
	DatasetID   string `json:"datasetId"`
	Query       string `json:"query"`
	RecordCount int    `json:"recordCount"`
	PostLimit   int    `json:"postLimit"`
	FullReuse   bool   `json:"fullReuse"`
}

// Quote is the price breakdown of a plan.
type Quote struct {
	ScrapeCost       float64 `json:"scrapeCost"`
	OrchestrationFee float64 `json:"orchestrationFee"`
	Total            float64 `json:"total"`
}

// Plan is the ordered set of scrape steps needed to answer a query.
type Plan struct {
	Intent               Intent          `json:"intent"`
	Query                string          `json:"query"`
	Targets              []string        `json:"targets,omitempty"`
	Steps                []PlanStep      `json:"steps"`
	ExistingDatasetIDs   []string        `json:"existingDatasetIds,omitempty"`
	ReusedDatasetDetails []ReusedDataset `json:"reusedDatasetDetails,omitempty"`
	Reasoning            string          `json:"reasoning"`
	Quote                Quote           `json:"quote"`
}

// StepByID returns the step with the given id.
func (p *Plan) StepByID(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// FullCacheHit reports whether every step is served from an existing dataset.
func (p *Plan) FullCacheHit() bool {
	if len(p.Steps) == 0 {
		return false
	}
	for _, s := range p.Steps {
		if !s.Cached {
			return false
		}
	}
	return true
}

// PrimarySteps returns the steps that do not depend on other steps.
func (p *Plan) PrimarySteps() []PlanStep {
	var out []PlanStep
	for _, s := range p.Steps {
		if s.Primary() {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy so re-quoting never touches the original.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Targets = append([]string(nil), p.Targets...)
	cp.ExistingDatasetIDs = append([]string(nil), p.ExistingDatasetIDs...)
	cp.ReusedDatasetDetails = append([]ReusedDataset(nil), p.ReusedDatasetDetails...)
	cp.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		s.Input = cloneInput(s.Input)
		cp.Steps[i] = s
	}
	return &cp
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case []string:
			out[k] = append([]string(nil), t...)
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
