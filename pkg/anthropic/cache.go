package anthropic

// CachedSystem builds a system block with a one-hour cache breakpoint. The
// extraction modes of one request share the same large context, so every
// mode after the first reads it from cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: "1h"},
	}}
}
