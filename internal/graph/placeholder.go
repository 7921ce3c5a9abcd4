package graph

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/fandom-graph/internal/model"
)

// StepResults holds the raw items each plan step produced, keyed by step id.
// An element may itself be a JSON array when a step ran in batches.
type StepResults map[string][]json.RawMessage

// Items flattens batched results of one step into individual items.
func (r StepResults) Items(stepID string) []json.RawMessage {
	var out []json.RawMessage
	for _, raw := range r[stepID] {
		out = appendFlat(out, raw)
	}
	return out
}

func appendFlat(out []json.RawMessage, raw json.RawMessage) []json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return append(out, raw)
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		return out
	}
	for _, inner := range batch {
		out = appendFlat(out, inner)
	}
	return out
}

// Handles returns the distinct normalized usernames found in a step's
// results, in result order.
func (r StepResults) Handles(stepID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range r.Items(stepID) {
		var rec model.ProfileRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		h := NormalizeID(rec.Username)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// PlaceholderStep returns the step id referenced by a placeholder value.
func PlaceholderStep(value string) (string, bool) {
	id, ok := strings.CutPrefix(strings.TrimSpace(value), model.PlaceholderPrefix)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

// ResolveHandles expands a step input value into handles. Placeholders are
// replaced by the handles discovered by the referenced step; unresolved
// placeholders yield nothing.
func ResolveHandles(value any, results StepResults) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(h string) {
		if h = NormalizeID(h); h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}

	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if stepID, ok := PlaceholderStep(t); ok {
				for _, h := range results.Handles(stepID) {
					add(h)
				}
				return
			}
			add(t)
		case []string:
			for _, s := range t {
				walk(s)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(value)
	return out
}

// handleInputKeys are the step input fields that name profiles.
var handleInputKeys = []string{"username", "usernames", "handles", "profiles"}

// stepHandles resolves every handle-valued input of a step.
func stepHandles(step model.PlanStep, results StepResults) []string {
	var out []string
	for _, k := range handleInputKeys {
		if v, ok := step.Input[k]; ok {
			out = append(out, ResolveHandles(v, results)...)
		}
	}
	return out
}
