package planner

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/model"
)

// ActorSpec describes the scrape actor used for one kind of step.
type ActorSpec struct {
	ID string `yaml:"id"`
	// InputKey receives the handles, hashtags or search term.
	InputKey string `yaml:"input_key"`
	// LimitKey receives the per-step record limit; empty means no limit field.
	LimitKey     string         `yaml:"limit_key"`
	PricePer1000 float64        `yaml:"price_per_1000"`
	Extra        map[string]any `yaml:"extra"`
}

// Catalog maps step kinds onto actors.
type Catalog struct {
	Platform string                        `yaml:"platform"`
	Actors   map[model.ActorKind]ActorSpec `yaml:"actors"`
}

// DefaultCatalog returns the built-in Instagram actors.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Platform: "instagram",
		Actors: map[model.ActorKind]ActorSpec{
			model.ActorKindFollowers: {
				ID: "thenetaji~instagram-followers-scraper", InputKey: "usernames", LimitKey: "maxCount",
				PricePer1000: 0.50, Extra: map[string]any{"type": "followers"},
			},
			model.ActorKindFollowing: {
				ID: "thenetaji~instagram-followers-scraper", InputKey: "usernames", LimitKey: "maxCount",
				PricePer1000: 0.50, Extra: map[string]any{"type": "following"},
			},
			model.ActorKindProfile: {
				ID: "apify~instagram-profile-scraper", InputKey: "usernames", PricePer1000: 2.60,
			},
			model.ActorKindPosts: {
				ID: "apify~instagram-post-scraper", InputKey: "username", LimitKey: "resultsLimit", PricePer1000: 2.30,
			},
			model.ActorKindSearch: {
				ID: "apify~instagram-search-scraper", InputKey: "search", LimitKey: "searchLimit",
				PricePer1000: 2.60, Extra: map[string]any{"searchType": "user"},
			},
			model.ActorKindHashtag: {
				ID: "apify~instagram-hashtag-scraper", InputKey: "hashtags", LimitKey: "resultsLimit", PricePer1000: 2.30,
			},
		},
	}
}

// LoadCatalog reads a YAML catalog from path and overlays it on the
// defaults. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "planner: read actor catalog %s", path)
	}
	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrapf(err, "planner: parse actor catalog %s", path)
	}
	if override.Platform != "" {
		c.Platform = override.Platform
	}
	for kind, spec := range override.Actors {
		base := c.Actors[kind]
		if spec.ID == "" {
			spec.ID = base.ID
		}
		if spec.InputKey == "" {
			spec.InputKey = base.InputKey
		}
		if spec.LimitKey == "" {
			spec.LimitKey = base.LimitKey
		}
		if spec.PricePer1000 == 0 {
			spec.PricePer1000 = base.PricePer1000
		}
		if spec.Extra == nil {
			spec.Extra = base.Extra
		}
		c.Actors[kind] = spec
	}
	return c, nil
}

// Actor returns the catalog entry for kind.
func (c *Catalog) Actor(kind model.ActorKind) (ActorSpec, bool) {
	s, ok := c.Actors[kind]
	return s, ok && s.ID != ""
}

// Rates folds the catalog's actor prices into base.
func (c *Catalog) Rates(base cost.Rates) cost.Rates {
	actors := make(map[string]float64, len(base.Actors)+len(c.Actors))
	for id, p := range base.Actors {
		actors[id] = p
	}
	kinds := make(map[model.ActorKind]float64, len(base.Kinds))
	for k, p := range base.Kinds {
		kinds[k] = p
	}
	for kind, spec := range c.Actors {
		if spec.PricePer1000 <= 0 {
			continue
		}
		kinds[kind] = spec.PricePer1000
	}
	base.Actors = actors
	base.Kinds = kinds
	return base
}
