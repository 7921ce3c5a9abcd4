package promptctx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/model"
)

// Entry is one profile in the context together with how often, and from
// which steps, it was seen.
type Entry struct {
	Profile   model.ProfileRecord
	Frequency int
	Sources   []string
}

// Options tunes rendering. A zero TokenBudget disables compression.
type Options struct {
	TokenBudget  int
	CaptionLimit int
	ShortCaption int
	ShortBio     int
	MaxTags      int
}

// DefaultOptions returns the rendering limits used in production.
func DefaultOptions() Options {
	return Options{
		TokenBudget:  900_000,
		CaptionLimit: 240,
		ShortCaption: 60,
		ShortBio:     80,
		MaxTags:      8,
	}
}

// Compression levels, applied cumulatively.
const (
	LevelNone = iota
	LevelShortCaptions
	LevelNoCaptions
	LevelShortBios
	LevelNoTags
)

// Context is the rendered prompt context and its lookup tables.
type Context struct {
	Text            string
	Registry        *Registry
	EstimatedTokens int
	Level           int
	// IDs maps a context id ("P3") to its handle.
	IDs map[string]string
	// Handles maps a lowercased handle to its context id.
	Handles map[string]string
}

// Whitelisted reports whether handle appears in the context.
func (c *Context) Whitelisted(handle string) bool {
	_, ok := c.Handles[normalizeHandle(handle)]
	return ok
}

// Resolve maps a context id or handle to the handle it names.
func (c *Context) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(strings.Trim(ref, "[]"))
	if h, ok := c.IDs[strings.ToUpper(ref)]; ok {
		return h, true
	}
	h := normalizeHandle(ref)
	if _, ok := c.Handles[h]; ok {
		return h, true
	}
	return "", false
}

// EstimateTokens approximates model tokens as one per four characters.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// Build renders entries in order. Every entry is kept; when the estimate
// exceeds the token budget, progressively lossier levels are applied.
func Build(entries []Entry, reg *Registry, opts Options) *Context {
	if reg == nil {
		reg = NewRegistry()
	}
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = DefaultOptions().CaptionLimit
	}
	if opts.ShortCaption <= 0 {
		opts.ShortCaption = DefaultOptions().ShortCaption
	}
	if opts.ShortBio <= 0 {
		opts.ShortBio = DefaultOptions().ShortBio
	}
	if opts.MaxTags <= 0 {
		opts.MaxTags = DefaultOptions().MaxTags
	}

	ctx := &Context{
		Registry: reg,
		IDs:      make(map[string]string, len(entries)),
		Handles:  make(map[string]string, len(entries)),
	}
	for i, e := range entries {
		id := fmt.Sprintf("P%d", i+1)
		h := e.Profile.Handle()
		ctx.IDs[id] = h
		if _, ok := ctx.Handles[h]; !ok {
			ctx.Handles[h] = id
		}
	}

	for level := LevelNone; level <= LevelNoTags; level++ {
		ctx.Text = render(entries, reg, opts, level)
		ctx.EstimatedTokens = EstimateTokens(ctx.Text)
		ctx.Level = level
		if opts.TokenBudget <= 0 || ctx.EstimatedTokens <= opts.TokenBudget {
			break
		}
	}

	if opts.TokenBudget > 0 && ctx.EstimatedTokens > opts.TokenBudget {
		zap.L().Warn("promptctx: context exceeds token budget after compression",
			zap.Int("estimated_tokens", ctx.EstimatedTokens),
			zap.Int("budget", opts.TokenBudget),
			zap.Int("records", len(entries)),
		)
	}
	return ctx
}

func render(entries []Entry, reg *Registry, opts Options, level int) string {
	var b strings.Builder
	for i, e := range entries {
		writeBlock(&b, i+1, e, reg, opts, level)
	}
	return b.String()
}

func writeBlock(b *strings.Builder, n int, e Entry, reg *Registry, opts Options, level int) {
	p := e.Profile
	freq := e.Frequency
	if freq < 1 {
		freq = 1
	}
	sources := "unknown"
	if len(e.Sources) > 0 {
		sources = strings.Join(e.Sources, "+")
	}

	fmt.Fprintf(b, "[P%d] @%s (x%d, %s): ", n, p.Handle(), freq, sources)

	bio := oneLine(p.Biography)
	if level >= LevelShortBios {
		bio = truncate(bio, opts.ShortBio)
	}
	if bio == "" {
		bio = "-"
	}
	fmt.Fprintf(b, "%s (followers: %d, posts: %d)", bio, p.FollowersCount, p.MediaCount)

	if tok := reg.Register(p.ProfilePicURL); tok != "" {
		b.WriteString(" [pic:" + tok + "]")
	}
	post, hasPost := firstPost(p.LatestPosts)
	if hasPost {
		media := post.DisplayURL
		if media == "" {
			media = post.URL
		}
		if tok := reg.Register(media); tok != "" {
			b.WriteString(" [media:" + tok + "]")
		}
	}
	if tok := reg.Register(p.ExternalURL); tok != "" {
		b.WriteString(" [link:" + tok + "]")
	}

	if level < LevelNoTags {
		if tags := collectTags(p.LatestPosts, opts.MaxTags); len(tags) > 0 {
			b.WriteString(" [tags: " + strings.Join(tags, " ") + "]")
		}
	}

	if hasPost && level < LevelNoCaptions {
		limit := opts.CaptionLimit
		if level >= LevelShortCaptions {
			limit = opts.ShortCaption
		}
		if caption := truncate(oneLine(post.Caption), limit); caption != "" {
			fmt.Fprintf(b, " %q", caption)
		}
	}
	b.WriteByte('\n')
}

func firstPost(posts []model.Post) (model.Post, bool) {
	if len(posts) == 0 {
		return model.Post{}, false
	}
	return posts[0], true
}

func collectTags(posts []model.Post, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range posts {
		for _, t := range p.Hashtags {
			t = "#" + strings.ToLower(strings.TrimPrefix(t, "#"))
			if t == "#" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// Collect merges step outputs into entries. Items are keyed by handle;
// profiles are merged field by field, post items attach to their owner.
// Steps are visited in id order and items in stored order, so output order
// is stable. kinds maps step ids to the actor kind that produced them.
func Collect(stepItems map[string][]json.RawMessage, kinds map[string]model.ActorKind) []Entry {
	stepIDs := make([]string, 0, len(stepItems))
	for id := range stepItems {
		stepIDs = append(stepIDs, id)
	}
	sort.Strings(stepIDs)

	var order []string
	byHandle := make(map[string]*Entry)
	get := func(handle string) *Entry {
		e, ok := byHandle[handle]
		if !ok {
			e = &Entry{Profile: model.ProfileRecord{Username: handle}}
			byHandle[handle] = e
			order = append(order, handle)
		}
		return e
	}

	for _, stepID := range stepIDs {
		source := string(kinds[stepID])
		if source == "" {
			source = stepID
		}
		for _, raw := range stepItems[stepID] {
			var rec model.ProfileRecord
			if err := json.Unmarshal(raw, &rec); err != nil || rec.Handle() == "" {
				continue
			}
			e := get(rec.Handle())
			e.Frequency++
			if !contains(e.Sources, source) {
				e.Sources = append(e.Sources, source)
			}

			if kinds[stepID] == model.ActorKindPosts {
				var post model.Post
				if err := json.Unmarshal(raw, &post); err == nil {
					e.Profile.LatestPosts = append(e.Profile.LatestPosts, post)
				}
				continue
			}
			mergeProfile(&e.Profile, rec)
		}
	}

	out := make([]Entry, 0, len(order))
	for _, h := range order {
		out = append(out, *byHandle[h])
	}
	return out
}

func mergeProfile(dst *model.ProfileRecord, src model.ProfileRecord) {
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.FullName != "" {
		dst.FullName = src.FullName
	}
	if src.Biography != "" {
		dst.Biography = src.Biography
	}
	if src.FollowersCount > 0 {
		dst.FollowersCount = src.FollowersCount
	}
	if src.FollowsCount > 0 {
		dst.FollowsCount = src.FollowsCount
	}
	if src.MediaCount > 0 {
		dst.MediaCount = src.MediaCount
	}
	if src.ProfilePicURL != "" {
		dst.ProfilePicURL = src.ProfilePicURL
	}
	if src.ExternalURL != "" {
		dst.ExternalURL = src.ExternalURL
	}
	dst.LatestPosts = append(dst.LatestPosts, src.LatestPosts...)
	dst.RelatedProfiles = append(dst.RelatedProfiles, src.RelatedProfiles...)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
