package design

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template is a reusable design direction a request can start from
// instead of (or in addition to) a free-form brief.
type Template struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	BasePrompt    string      `yaml:"base_prompt"`
	DefaultAspect AspectRatio `yaml:"default_aspect"`
}

// Catalog is the set of built-in templates, loaded from the embedded
// YAML manifest.
type Catalog struct {
	templates map[string]Template
	order     []string
}

// LoadCatalog parses the embedded template manifest.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(templatesYAML)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var manifest struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing template manifest: %w", err)
	}

	c := &Catalog{templates: make(map[string]Template, len(manifest.Templates))}
	for _, t := range manifest.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template manifest entry %q has no id", t.Name)
		}
		if _, dup := c.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c, nil
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// All returns every template in manifest order.
func (c *Catalog) All() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}
