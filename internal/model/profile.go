package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Post is one item from a profile's recent media.
type Post struct {
	ShortCode     string   `json:"shortCode,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	URL           string   `json:"url,omitempty"`
	DisplayURL    string   `json:"displayUrl,omitempty"`
	Type          string   `json:"type,omitempty"`
	OwnerUsername string   `json:"ownerUsername,omitempty"`
	Hashtags      []string `json:"hashtags,omitempty"`
	Mentions      []string `json:"mentions,omitempty"`
	LikesCount    int      `json:"likesCount,omitempty"`
	CommentsCount int      `json:"commentsCount,omitempty"`
}

// RelatedProfile is a profile suggested alongside another one.
type RelatedProfile struct {
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

// ProfileRecord is a scraped social profile. Decoding accepts the field
// aliases emitted by the common scrape actors.
type ProfileRecord struct {
	Username        string           `json:"username"`
	FullName        string           `json:"fullName,omitempty"`
	Biography       string           `json:"biography,omitempty"`
	FollowersCount  int              `json:"followersCount,omitempty"`
	FollowsCount    int              `json:"followsCount,omitempty"`
	MediaCount      int              `json:"mediaCount,omitempty"`
	ProfilePicURL   string           `json:"profilePicUrl,omitempty"`
	ExternalURL     string           `json:"externalUrl,omitempty"`
	LatestPosts     []Post           `json:"latestPosts,omitempty"`
	RelatedProfiles []RelatedProfile `json:"relatedProfiles,omitempty"`
}

var (
	usernameKeys  = []string{"username", "userName", "ownerUsername", "handle"}
	fullNameKeys  = []string{"fullName", "full_name", "name"}
	bioKeys       = []string{"biography", "bio", "description"}
	followersKeys = []string{"followersCount", "followers_count", "followers", "edge_followed_by"}
	followsKeys   = []string{"followsCount", "follows_count", "followingCount", "following"}
	mediaKeys     = []string{"mediaCount", "postsCount", "posts_count", "media_count"}
	picKeys       = []string{"profilePicUrl", "profilePicUrlHD", "profile_pic_url", "profile_pic_url_hd", "avatar"}
	externalKeys  = []string{"externalUrl", "external_url", "website"}
)

// UnmarshalJSON decodes a profile while tolerating actor-specific field names.
func (p *ProfileRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode profile")
	}
	p.Username = strings.TrimPrefix(strings.TrimSpace(firstString(raw, usernameKeys)), "@")
	p.FullName = firstString(raw, fullNameKeys)
	p.Biography = firstString(raw, bioKeys)
	p.FollowersCount = firstInt(raw, followersKeys)
	p.FollowsCount = firstInt(raw, followsKeys)
	p.MediaCount = firstInt(raw, mediaKeys)
	p.ProfilePicURL = firstString(raw, picKeys)
	p.ExternalURL = firstString(raw, externalKeys)

	p.LatestPosts = nil
	if v, ok := raw["latestPosts"]; ok {
		_ = json.Unmarshal(v, &p.LatestPosts)
	}
	p.RelatedProfiles = nil
	for _, k := range []string{"relatedProfiles", "related_profiles"} {
		if v, ok := raw[k]; ok {
			_ = json.Unmarshal(v, &p.RelatedProfiles)
			break
		}
	}
	return nil
}

func firstString(raw map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// firstInt accepts numbers, numeric strings and {"count": n} objects.
func firstInt(raw map[string]json.RawMessage, keys []string) int {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return int(f)
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if n, err := strconv.Atoi(strings.ReplaceAll(s, ",", "")); err == nil {
				return n
			}
		}
		var obj struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(v, &obj); err == nil && obj.Count > 0 {
			return obj.Count
		}
	}
	return 0
}

// Handle returns the lowercased username without a leading "@".
func (p ProfileRecord) Handle() string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.Username), "@"))
}

// HasBasics reports whether the record carries the fields the graph needs.
func (p ProfileRecord) HasBasics() bool {
	return p.Biography != "" && p.FollowersCount > 0 && p.ProfilePicURL != ""
}
