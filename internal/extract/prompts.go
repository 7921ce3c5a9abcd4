package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/fandom-graph/internal/model"
)

// Mode selects the prompt template and the part of the analytics it fills.
type Mode string

const (
	ModeFull         Mode = "full"
	ModeStructure    Mode = "structure"
	ModeCreators     Mode = "creators"
	ModeBrands       Mode = "brands"
	ModeContent      Mode = "content"
	ModeVerification Mode = "verification"
	// ModeDeep runs structure, creators, brands and content in parallel.
	ModeDeep Mode = "deep"
)

// deepModes are merged in this order.
var deepModes = []Mode{ModeStructure, ModeCreators, ModeBrands, ModeContent}

// ParseMode maps a string onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFull, ModeStructure, ModeCreators, ModeBrands, ModeContent, ModeVerification, ModeDeep:
		return m, true
	case "":
		return ModeFull, true
	}
	return "", false
}

const systemPrompt = `You are an audience intelligence analyst. You map the communities around social media profiles using ONLY the scraped context provided.

Grounding rules:
- Every creator, cluster member and content item MUST reference a context id such as [P3]. Never introduce an account that is not in the context.
- Every entity MUST carry "citation", "searchQuery", "sourceUrl" and "evidence".
  "evidence" quotes or paraphrases the specific context lines that support the entity (at least 12 characters).
  "sourceUrl" starts with http; you may use the [[U..]] link tokens from the context.
- Never use placeholder values such as "TBD", "N/A" or "unknown".
- Never justify an entity with vague words alone ("popular", "well-known", "trending"). Cite what the context says.
- Omit an entity rather than invent support for it.

Return ONLY a JSON object. No markdown, no commentary.`

const provenanceSchema = `"citation": "...", "searchQuery": "...", "sourceUrl": "https://...", "evidence": "...", "confidence": 0-100`

var modeSchemas = map[Mode]string{
	ModeFull: `{
  "summary": "2-3 sentences",
  "root": {"id": "main", "label": "@target", "type": "main", "children": [
    {"id": "cluster_1", "label": "...", "type": "cluster", "children": [
      {"id": "[P1]", "label": "@handle", "type": "creator", ` + provenanceSchema + `}
    ], ` + provenanceSchema + `}
  ]},
  "clusters": [{"id": "cluster_1", "name": "...", "description": "...", "size": 0, "keywords": ["..."], "members": ["[P1]"], ` + provenanceSchema + `}],
  "creators": [{"contextId": "P1", "handle": "...", "category": "...", "clusterId": "cluster_1", "reason": "...", ` + provenanceSchema + `}],
  "brands": [{"name": "...", "handle": "", "category": "...", "mentions": 0, "clusterId": "cluster_1", ` + provenanceSchema + `}],
  "topics": [{"id": "topic_1", "name": "...", "description": "...", "clusterId": "cluster_1", ` + provenanceSchema + `}],
  "subtopics": [{"name": "...", "parent": "topic name", ` + provenanceSchema + `}],
  "hashtags": [{"tag": "#...", "count": 0, ` + provenanceSchema + `}],
  "content": [{"contextId": "P1", "title": "...", "format": "reel|carousel|photo|video", ` + provenanceSchema + `}],
  "nonRelatedInterests": [{"name": "...", "category": "...", ` + provenanceSchema + `}]
}`,
	ModeStructure: `{
  "summary": "2-3 sentences",
  "root": {"id": "main", "label": "@target", "type": "main", "children": [
    {"id": "cluster_1", "label": "...", "type": "cluster", "children": [
      {"id": "[P1]", "label": "@handle", "type": "creator", ` + provenanceSchema + `}
    ], ` + provenanceSchema + `}
  ]},
  "clusters": [{"id": "cluster_1", "name": "...", "description": "...", "size": 0, "keywords": ["..."], "members": ["[P1]"], ` + provenanceSchema + `}],
  "topics": [{"id": "topic_1", "name": "...", "description": "...", "clusterId": "cluster_1", ` + provenanceSchema + `}],
  "subtopics": [{"name": "...", "parent": "topic name", ` + provenanceSchema + `}]
}`,
	ModeCreators: `{
  "creators": [{"contextId": "P1", "handle": "...", "name": "...", "category": "...", "clusterId": "", "reason": "...", ` + provenanceSchema + `}]
}`,
	ModeBrands: `{
  "brands": [{"name": "...", "handle": "", "category": "...", "mentions": 0, ` + provenanceSchema + `}]
}`,
	ModeContent: `{
  "hashtags": [{"tag": "#...", "count": 0, ` + provenanceSchema + `}],
  "content": [{"contextId": "P1", "title": "...", "format": "reel|carousel|photo|video", "url": "", ` + provenanceSchema + `}],
  "nonRelatedInterests": [{"name": "...", "category": "...", ` + provenanceSchema + `}]
}`,
}

var modeTasks = map[Mode]string{
	ModeFull:      "Produce the complete audience map: a hierarchical tree (main -> clusters -> creators) plus every entity list.",
	ModeStructure: "Identify the 3-8 distinct audience clusters and the topics they discuss. Build the hierarchical tree main -> clusters -> representative creators.",
	ModeCreators:  "List the most influential creators in the audience (up to 40), ranked by relevance to the query.",
	ModeBrands:    "List the brands and companies this audience engages with (up to 30), with how often they are mentioned.",
	ModeContent:   "List the recurring hashtags, representative content and interests unrelated to the query subject.",
}

// buildPrompt renders the user prompt for one analysis mode.
func buildPrompt(mode Mode, req Request, contextText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis mode: %s\n", mode)
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	if req.Intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", req.Intent)
	}
	platform := req.Platform
	if platform == "" {
		platform = "instagram"
	}
	fmt.Fprintf(&b, "Platform: %s\n", platform)
	if req.Intent == model.IntentComparisonMap {
		b.WriteString("Compare the audiences of every target and call out the overlap.\n")
	}
	b.WriteString("\nTask: " + modeTasks[mode] + "\n")
	b.WriteString("\nContext (one line per profile: [ID] @handle (xfrequency, sources): bio (followers, posts) [tokens] [tags] \"caption\"):\n")
	b.WriteString(contextText)
	b.WriteString("\nRespond with JSON matching exactly this shape:\n")
	b.WriteString(modeSchemas[mode])
	return b.String()
}

const verificationPrompt = `Analysis mode: verification
Query: %s

Audit the audience analysis below. Check that clusters are distinct, creators and brands are specific (not generic names), and that the result answers the query.

Analysis:
%s

Respond with JSON: {"isValid": true|false, "confidence": 0-100, "issues": ["..."]}`

const visionPrompt = `These images come from the recent posts of one audience. Identify:
- brands: logos or products clearly visible
- aesthetics: recurring visual styles (e.g. "streetwear", "minimalist", "y2k")
- colors: dominant colors as plain names

Respond with JSON: {"brands": ["..."], "aesthetics": ["..."], "colors": ["..."]}`
