// Package llmjson decodes JSON produced by language models, which may be
// wrapped in markdown fences, followed by commentary or cut off mid-value.
package llmjson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ParseError reports model output that could not be turned into JSON.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "llmjson: unparseable output: " + e.Snippet
	}
	return "llmjson: unparseable output: " + e.Err.Error() + ": " + e.Snippet
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(text string, err error) *ParseError {
	snippet := text
	if len(snippet) > 120 {
		snippet = snippet[:120] + "..."
	}
	return &ParseError{Snippet: snippet, Err: err}
}

// StripFences removes surrounding markdown code fences.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		// Drop the language tag line (```json).
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

type snapshot struct {
	pos   int
	stack []byte
}

// Extract returns the first complete JSON object or array in text. Trailing
// commentary is dropped; truncated output is repaired when possible.
func Extract(text string) (string, error) {
	text = StripFences(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", newParseError(text, eris.New("no JSON value found"))
	}
	text = text[start:]

	var (
		stack    []byte
		inString bool
		escaped  bool
		commas   []snapshot
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", newParseError(text, eris.New("unbalanced close"))
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[:i+1], nil
			}
		case ',':
			commas = append(commas, snapshot{pos: i, stack: append([]byte(nil), stack...)})
		}
	}

	return repair(text, stack, inString, commas)
}

func repair(text string, stack []byte, inString bool, commas []snapshot) (string, error) {
	candidate := text
	if inString {
		if strings.HasSuffix(candidate, "\\") {
			candidate = candidate[:len(candidate)-1]
		}
		candidate += `"`
	}
	candidate = strings.TrimRight(candidate, " \t\r\n")
	candidate = strings.TrimSuffix(candidate, ",")
	candidate += closers(stack)
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	// Fall back to the last element boundary that still yields valid JSON.
	for i := len(commas) - 1; i >= 0; i-- {
		s := commas[i]
		candidate = text[:s.pos] + closers(s.stack)
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	candidate = string(stack[0]) + closers(stack[:1])
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	return "", newParseError(text, eris.New("truncated output could not be repaired"))
}

func closers(stack []byte) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Unmarshal extracts, repairs and decodes model output into v.
func Unmarshal(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return newParseError(raw, err)
	}
	return nil
}

// Decode is Unmarshal for a fresh value. On failure it returns the zero
// value together with the ParseError.
func Decode[T any](text string) (T, error) {
	var v T
	if err := Unmarshal(text, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
