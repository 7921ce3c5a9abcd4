// Package graph builds, deduplicates and hydrates fandom graphs.
package graph

import (
	"strconv"
	"strings"

	"github.com/sells-group/fandom-graph/internal/model"
)

const mainPrefix = "MAIN"

// NormalizeID lowercases x and strips surrounding whitespace and leading "@"
// characters. NormalizeID(NormalizeID(x)) == NormalizeID(x) for every x.
func NormalizeID(x string) string {
	s := strings.ToLower(strings.TrimSpace(x))
	for {
		t := strings.TrimSpace(strings.TrimLeft(s, "@"))
		if t == s {
			return s
		}
		s = t
	}
}

// CompositeID joins trimmed, non-empty parts with "_".
func CompositeID(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "_")
}

// MainID returns the id of the i-th main node, e.g. "MAIN_0".
func MainID(i int) string {
	return CompositeID(mainPrefix, strconv.Itoa(i))
}

func isMainID(id string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), mainPrefix+"_")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// nodeKey is the identity used for deduplication. Main ids keep their case.
func nodeKey(id string) string {
	if isMainID(id) {
		return strings.TrimSpace(id)
	}
	return NormalizeID(id)
}

// HandleLabel renders a handle as "@handle".
func HandleLabel(handle string) string {
	h := NormalizeID(handle)
	if h == "" {
		return ""
	}
	return "@" + h
}

func labelFor(g model.Group, id, label string) string {
	label = strings.TrimSpace(label)
	switch g {
	case model.GroupCreator, model.GroupBrand:
		if label == "" {
			return HandleLabel(id)
		}
	case model.GroupHashtag:
		tag := strings.TrimPrefix(label, "#")
		if tag == "" {
			tag = strings.TrimPrefix(NormalizeID(id), "#")
		}
		return "#" + tag
	}
	if label == "" {
		return id
	}
	return label
}
