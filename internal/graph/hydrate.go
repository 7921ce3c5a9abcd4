package graph

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/model"
)

// ProfileIndex maps lowercased handles to scraped profiles. It is built once
// per pipeline run and passed to the stages that need it.
type ProfileIndex struct {
	profiles map[string]model.ProfileRecord
}

// NewProfileIndex indexes the given records, merging repeats.
func NewProfileIndex(records ...model.ProfileRecord) *ProfileIndex {
	ix := &ProfileIndex{profiles: make(map[string]model.ProfileRecord, len(records))}
	for _, r := range records {
		ix.Add(r)
	}
	return ix
}

// IndexItems decodes raw scrape items and indexes every one carrying a
// username. Undecodable items are skipped.
func IndexItems(items []json.RawMessage) *ProfileIndex {
	ix := NewProfileIndex()
	for _, raw := range items {
		var rec model.ProfileRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		ix.Add(rec)
	}
	return ix
}

func indexKey(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Add indexes p under its lowercased username. Fields already known are only
// replaced by non-empty values.
func (ix *ProfileIndex) Add(p model.ProfileRecord) {
	key := indexKey(p.Username)
	if key == "" {
		return
	}
	cur, ok := ix.profiles[key]
	if !ok {
		ix.profiles[key] = p
		return
	}
	if p.FullName != "" {
		cur.FullName = p.FullName
	}
	if p.Biography != "" {
		cur.Biography = p.Biography
	}
	if p.FollowersCount > 0 {
		cur.FollowersCount = p.FollowersCount
	}
	if p.FollowsCount > 0 {
		cur.FollowsCount = p.FollowsCount
	}
	if p.MediaCount > 0 {
		cur.MediaCount = p.MediaCount
	}
	if p.ProfilePicURL != "" {
		cur.ProfilePicURL = p.ProfilePicURL
	}
	if p.ExternalURL != "" {
		cur.ExternalURL = p.ExternalURL
	}
	if len(p.LatestPosts) > 0 {
		cur.LatestPosts = p.LatestPosts
	}
	if len(p.RelatedProfiles) > 0 {
		cur.RelatedProfiles = p.RelatedProfiles
	}
	ix.profiles[key] = cur
}

// Merge adds every profile of other.
func (ix *ProfileIndex) Merge(other *ProfileIndex) {
	if other == nil {
		return
	}
	for _, p := range other.profiles {
		ix.Add(p)
	}
}

// Lookup finds a profile by handle, trying the key as given, with a leading
// "@" and without one.
func (ix *ProfileIndex) Lookup(handle string) (model.ProfileRecord, bool) {
	if ix == nil {
		return model.ProfileRecord{}, false
	}
	key := indexKey(handle)
	if key == "" {
		return model.ProfileRecord{}, false
	}
	for _, k := range []string{key, "@" + key, strings.TrimLeft(key, "@")} {
		if p, ok := ix.profiles[k]; ok {
			return p, true
		}
	}
	return model.ProfileRecord{}, false
}

// Len returns the number of indexed handles.
func (ix *ProfileIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.profiles)
}

// Handles returns the indexed keys in sorted order.
func (ix *ProfileIndex) Handles() []string {
	if ix == nil {
		return nil
	}
	out := make([]string, 0, len(ix.profiles))
	for k := range ix.profiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the index as a handle → profile object.
func (ix *ProfileIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(ix.profiles)
}

// UnmarshalJSON decodes a handle → profile object, re-keying by username
// where the stored key differs.
func (ix *ProfileIndex) UnmarshalJSON(data []byte) error {
	var raw map[string]model.ProfileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "graph: decode profile map")
	}
	ix.profiles = make(map[string]model.ProfileRecord, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := raw[k]
		if p.Username == "" {
			p.Username = k
		}
		ix.Add(p)
	}
	return nil
}

// ProfileData converts a scraped profile to node data.
func ProfileData(p model.ProfileRecord) model.NodeData {
	return model.NodeData{
		Bio:           strings.TrimSpace(p.Biography),
		Followers:     p.FollowersCount,
		Following:     p.FollowsCount,
		Posts:         p.MediaCount,
		ProfilePicURL: p.ProfilePicURL,
		ExternalURL:   p.ExternalURL,
		FullName:      p.FullName,
	}
}

// Hydrate copies profile data from ix into every non-structural node that
// matches by id or label, and returns the number of nodes hydrated.
func Hydrate(g *model.Graph, ix *ProfileIndex) int {
	if ix.Len() == 0 {
		return 0
	}
	n := 0
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Group.Structural() {
			continue
		}
		p, ok := ix.Lookup(node.ID)
		if !ok {
			p, ok = ix.Lookup(node.Label)
		}
		if !ok {
			continue
		}
		MergeData(&node.Data, ProfileData(p))
		n++
	}
	return n
}
