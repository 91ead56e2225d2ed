// Package presets holds the versioned catalog of scene/style descriptors.
package presets

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"quel-tryon-server/modules/tryon/tryonerr"
)

//go:embed presets.yaml
var defaultCatalog []byte

var idPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// ScenePreset describes environment, lighting and optics only.
type ScenePreset struct {
	ID       string   `yaml:"id" json:"id"`
	Label    string   `yaml:"label" json:"label"`
	Category string   `yaml:"category" json:"category"`
	Scene    string   `yaml:"scene" json:"scene"`
	Lighting string   `yaml:"lighting" json:"lighting"`
	Camera   string   `yaml:"camera" json:"camera"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Summary is the compact form handed to preset selection.
type Summary struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type catalogFile struct {
	Version  int           `yaml:"version"`
	Fallback string        `yaml:"fallback"`
	Retired  []string      `yaml:"retired"`
	Presets  []ScenePreset `yaml:"presets"`
}

// Catalog is read-only after construction.
type Catalog struct {
	version    int
	fallbackID string
	retired    map[string]bool
	order      []ScenePreset
	byID       map[string]ScenePreset
	categories []string
}

// Parse decodes a catalog document and validates it, including the
// person-language lint.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preset catalog: %w", err)
	}

	c := &Catalog{
		version:    f.Version,
		fallbackID: f.Fallback,
		retired:    make(map[string]bool, len(f.Retired)),
		byID:       make(map[string]ScenePreset, len(f.Presets)),
	}
	for _, id := range f.Retired {
		c.retired[id] = true
	}

	seenCategory := map[string]bool{}
	for _, p := range f.Presets {
		if !idPattern.MatchString(p.ID) {
			return nil, fmt.Errorf("preset catalog: invalid id %q", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("preset catalog: duplicate id %q", p.ID)
		}
		if c.retired[p.ID] {
			return nil, fmt.Errorf("preset catalog: id %q is retired and cannot be reused", p.ID)
		}
		if p.Category == "" || p.Scene == "" || p.Lighting == "" || p.Camera == "" {
			return nil, fmt.Errorf("preset catalog: %q must set category, scene, lighting and camera", p.ID)
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p)
		if !seenCategory[p.Category] {
			seenCategory[p.Category] = true
			c.categories = append(c.categories, p.Category)
		}
	}

	if _, ok := c.byID[c.fallbackID]; !ok {
		return nil, fmt.Errorf("preset catalog: fallback %q is not a preset", c.fallbackID)
	}
	if violations := Lint(c.order); len(violations) > 0 {
		return nil, fmt.Errorf("preset catalog: %d person-language violations, first: %s", len(violations), violations[0])
	}
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(defaultCatalog)
	})
	return defaultCat, defaultErr
}

func (c *Catalog) Version() int { return c.version }

// List returns every preset in catalog order.
func (c *Catalog) List() []ScenePreset {
	out := make([]ScenePreset, len(c.order))
	copy(out, c.order)
	return out
}

// Categories in first-appearance order.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.categories))
	copy(out, c.categories)
	return out
}

// ByCategory returns the presets of one category.
func (c *Catalog) ByCategory(category string) []ScenePreset {
	var out []ScenePreset
	for _, p := range c.order {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Get looks up a preset by id. Unknown and retired ids return PresetNotFound.
func (c *Catalog) Get(id string) (ScenePreset, error) {
	p, ok := c.byID[id]
	if !ok {
		reason := fmt.Sprintf("no preset %q", id)
		if c.retired[id] {
			reason = fmt.Sprintf("preset %q is retired", id)
		}
		return ScenePreset{}, tryonerr.New(tryonerr.PresetNotFound, "presets", reason)
	}
	return p, nil
}

// Fallback is the preset used when nothing else resolves.
func (c *Catalog) Fallback() ScenePreset {
	return c.byID[c.fallbackID]
}

// Summaries returns id + description pairs for selection.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, Summary{
			ID:          p.ID,
			Description: fmt.Sprintf("%s (%s): %s; %s", p.Label, p.Category, p.Scene, p.Lighting),
		})
	}
	return out
}
