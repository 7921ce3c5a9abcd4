// Package promptctx renders scraped records into the compact text context
// handed to the extraction model.
package promptctx

import (
	"regexp"
	"strconv"
	"sync"
)

var tokenPattern = regexp.MustCompile(`\[\[U\d+\]\]`)

// Registry swaps long strings (URLs) for short tokens and back. A registry is
// scoped to one extraction and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byValue map[string]string
	byToken map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byValue: make(map[string]string),
		byToken: make(map[string]string),
	}
}

// Register returns the token for value, allocating one on first sight.
// The empty string maps to itself.
func (r *Registry) Register(value string) string {
	if value == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.byValue[value]; ok {
		return tok
	}
	tok := "[[U" + strconv.Itoa(len(r.byToken)+1) + "]]"
	r.byValue[value] = tok
	r.byToken[tok] = value
	return tok
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// Lookup returns the original value for a token.
func (r *Registry) Lookup(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byToken[token]
	return v, ok
}

// Unpack replaces every known token in s in a single pass. Restored values
// are not scanned again, and unknown tokens are left as they are.
func (r *Registry) Unpack(s string) string {
	if len(s) < 6 {
		return s
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := r.byToken[tok]; ok {
			return v
		}
		return tok
	})
}

// UnpackObject walks decoded JSON (maps, slices, strings) and restores
// tokens wherever they appear. Containers are rebuilt, not mutated.
func (r *Registry) UnpackObject(v any) any {
	switch t := v.(type) {
	case string:
		return r.Unpack(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.UnpackObject(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.UnpackObject(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = r.Unpack(val)
		}
		return out
	default:
		return v
	}
}
