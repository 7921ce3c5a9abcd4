package model

import "strings"

// Group is the kind of a graph node.
type Group string

const (
	GroupMain               Group = "main"
	GroupCluster            Group = "cluster"
	GroupCreator            Group = "creator"
	GroupBrand              Group = "brand"
	GroupTopic              Group = "topic"
	GroupSubtopic           Group = "subtopic"
	GroupHashtag            Group = "hashtag"
	GroupContent            Group = "content"
	GroupNonRelatedInterest Group = "nonRelatedInterest"
)

// Groups lists every group in render order.
var Groups = []Group{
	GroupMain, GroupCluster, GroupCreator, GroupBrand, GroupTopic,
	GroupSubtopic, GroupHashtag, GroupContent, GroupNonRelatedInterest,
}

var groupAliases = map[string]Group{
	"main":                 GroupMain,
	"root":                 GroupMain,
	"target":               GroupMain,
	"cluster":              GroupCluster,
	"community":            GroupCluster,
	"segment":              GroupCluster,
	"creator":              GroupCreator,
	"influencer":           GroupCreator,
	"profile":              GroupCreator,
	"user":                 GroupCreator,
	"account":              GroupCreator,
	"brand":                GroupBrand,
	"company":              GroupBrand,
	"topic":                GroupTopic,
	"theme":                GroupTopic,
	"subtopic":             GroupSubtopic,
	"sub_topic":            GroupSubtopic,
	"hashtag":              GroupHashtag,
	"tag":                  GroupHashtag,
	"content":              GroupContent,
	"post":                 GroupContent,
	"nonrelatedinterest":   GroupNonRelatedInterest,
	"non_related_interest": GroupNonRelatedInterest,
	"interest":             GroupNonRelatedInterest,
}

// ParseGroup maps a loose type name onto a Group.
func ParseGroup(s string) (Group, bool) {
	g, ok := groupAliases[strings.ToLower(strings.TrimSpace(s))]
	return g, ok
}

// Structural reports whether nodes of this group describe structure rather than a profile.
func (g Group) Structural() bool {
	switch g {
	case GroupCluster, GroupTopic, GroupSubtopic, GroupHashtag, GroupContent:
		return true
	}
	return false
}

// ProfileBacked reports whether nodes of this group represent a social profile.
func (g Group) ProfileBacked() bool {
	return g == GroupMain || g == GroupCreator || g == GroupBrand
}

// NodeData holds profile fields attached during hydration.
type NodeData struct {
	Bio           string `json:"bio,omitempty"`
	Followers     int    `json:"followers,omitempty"`
	Following     int    `json:"following,omitempty"`
	Posts         int    `json:"posts,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	ExternalURL   string `json:"externalUrl,omitempty"`
	FullName      string `json:"fullName,omitempty"`
}

// NodeProvenance explains where a node came from.
type NodeProvenance struct {
	Source     string   `json:"source"`
	Method     string   `json:"method"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Richness scores how much supporting detail the provenance carries.
func (p *NodeProvenance) Richness() int {
	if p == nil {
		return 0
	}
	score := len(p.Evidence) * 2
	if p.Source != "" {
		score++
	}
	if p.Method != "" {
		score++
	}
	if p.Confidence > 0 {
		score++
	}
	return score
}

// Node is a vertex in the rendered graph.
type Node struct {
	ID         string          `json:"id"`
	Group      Group           `json:"group"`
	Label      string          `json:"label"`
	Val        float64         `json:"val"`
	Level      int             `json:"level"`
	Data       NodeData        `json:"data"`
	Provenance *NodeProvenance `json:"provenance,omitempty"`
}

// Link is a weighted edge between two node ids.
type Link struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Graph is the node/link structure stored in a dataset snapshot.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// NodeByID returns a pointer into g.Nodes for the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// EnrichmentGap is a profile-backed node that lacks profile data.
type EnrichmentGap struct {
	NodeID string `json:"nodeId"`
	Handle string `json:"handle"`
	Reason string `json:"reason"`
}
