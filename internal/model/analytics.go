package model

// Provenance is the grounding an LLM must supply for every extracted entity.
type Provenance struct {
	Citation    string  `json:"citation,omitempty"`
	SearchQuery string  `json:"searchQuery,omitempty"`
	SourceURL   string  `json:"sourceUrl,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Empty reports whether no provenance field is set.
func (p Provenance) Empty() bool {
	return p.Citation == "" && p.SearchQuery == "" && p.SourceURL == "" && p.Evidence == ""
}

// Cluster is a community of profiles sharing an interest.
type Cluster struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Size        int      `json:"size,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Members     []string `json:"members,omitempty"`
	Provenance
}

// Creator is an influential profile found in the audience.
type Creator struct {
	ContextID string `json:"contextId,omitempty"`
	Handle    string `json:"handle"`
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
	ClusterID string `json:"clusterId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Provenance
}

// Brand is a company or product the audience engages with.
type Brand struct {
	Name      string `json:"name"`
	Handle    string `json:"handle,omitempty"`
	Category  string `json:"category,omitempty"`
	Mentions  int    `json:"mentions,omitempty"`
	ClusterID string `json:"clusterId,omitempty"`
	Provenance
}

// Topic is a subject the audience discusses.
type Topic struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ClusterID   string `json:"clusterId,omitempty"`
	Provenance
}

// Subtopic narrows a Topic.
type Subtopic struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Provenance
}

// Hashtag is a tag frequently used by the audience.
type Hashtag struct {
	Tag   string `json:"tag"`
	Count int    `json:"count,omitempty"`
	Provenance
}

// ContentItem is a representative post or format.
type ContentItem struct {
	ContextID string `json:"contextId,omitempty"`
	Title     string `json:"title"`
	Format    string `json:"format,omitempty"`
	URL       string `json:"url,omitempty"`
	Provenance
}

// NonRelatedInterest is an interest unrelated to the query subject.
type NonRelatedInterest struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Provenance
}

// VisualAnalysis is the merged result of image analysis batches.
type VisualAnalysis struct {
	Brands         []string `json:"brands,omitempty"`
	Aesthetics     []string `json:"aesthetics,omitempty"`
	Colors         []string `json:"colors,omitempty"`
	ImagesAnalyzed int      `json:"imagesAnalyzed"`
}

// QualityMetrics summarise an audit.
type QualityMetrics struct {
	Completeness    float64 `json:"completeness"`
	Diversity       float64 `json:"diversity"`
	GroundedRatio   float64 `json:"groundedRatio"`
	GenericNameHits int     `json:"genericNameHits"`
}

// AuditResult is the verdict on one analytics result.
type AuditResult struct {
	IsValid        bool           `json:"isValid"`
	Confidence     int            `json:"confidence"`
	QualityMetrics QualityMetrics `json:"qualityMetrics"`
	Issues         []string       `json:"issues,omitempty"`
}

// TreeNode is a node of the hierarchical analytics tree. Type is the raw
// value from the model; Group is the resolved kind.
type TreeNode struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Type     string      `json:"type,omitempty"`
	Group    Group       `json:"group,omitempty"`
	Val      float64     `json:"val,omitempty"`
	Handle   string      `json:"handle,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
	Provenance
}

// Analytics is the structured output of the extraction engine.
type Analytics struct {
	Summary             string               `json:"summary,omitempty"`
	Root                *TreeNode            `json:"root,omitempty"`
	Clusters            []Cluster            `json:"clusters,omitempty"`
	Creators            []Creator            `json:"creators,omitempty"`
	Brands              []Brand              `json:"brands,omitempty"`
	Topics              []Topic              `json:"topics,omitempty"`
	Subtopics           []Subtopic           `json:"subtopics,omitempty"`
	Hashtags            []Hashtag            `json:"hashtags,omitempty"`
	Content             []ContentItem        `json:"content,omitempty"`
	NonRelatedInterests []NonRelatedInterest `json:"nonRelatedInterests,omitempty"`
	Visual              *VisualAnalysis      `json:"visual,omitempty"`
	Audit               *AuditResult         `json:"audit,omitempty"`
}

// IsEmpty reports whether the analytics carry no entities at all.
func (a *Analytics) IsEmpty() bool {
	if a == nil {
		return true
	}
	return a.Root == nil && len(a.Clusters) == 0 && len(a.Creators) == 0 &&
		len(a.Brands) == 0 && len(a.Topics) == 0 && len(a.Subtopics) == 0 &&
		len(a.Hashtags) == 0 && len(a.Content) == 0 && len(a.NonRelatedInterests) == 0
}
