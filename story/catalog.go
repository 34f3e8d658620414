package story

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog holds the stories the service can narrate.
type Catalog struct {
	stories map[string]Story
	order   []string
}

type catalogFile struct {
	Stories []Story `yaml:"stories"`
}

// NewCatalog indexes stories by ID. IDs must be unique and non-empty and every
// story needs at least one chapter.
func NewCatalog(stories []Story) (*Catalog, error) {
	c := &Catalog{stories: make(map[string]Story, len(stories))}
	for _, s := range stories {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("story %q: id is required", s.Name)
		}
		if _, dup := c.stories[id]; dup {
			return nil, fmt.Errorf("story %q: duplicate id", id)
		}
		if len(s.Chapters) == 0 {
			return nil, fmt.Errorf("story %q: no chapters", id)
		}
		s.ID = id
		c.stories[id] = s
		c.order = append(c.order, id)
	}
	sort.Strings(c.order)
	return c, nil
}

// LoadCatalog reads a YAML catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML document with a top-level "stories" list.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(f.Stories)
}

// Story looks a story up by ID.
func (c *Catalog) Story(id string) (Story, error) {
	s, ok := c.stories[id]
	if !ok {
		return Story{}, ErrNotFound
	}
	return s, nil
}

// List returns all stories sorted by ID.
func (c *Catalog) List() []Story {
	out := make([]Story, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.stories[id])
	}
	return out
}
