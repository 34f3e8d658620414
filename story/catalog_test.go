package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
stories:
  - id: moonlit-harbor
    name: Moonlit Harbor
    description: A lighthouse keeper and a stranger from the sea.
    chapters:
      - name: The Storm
        objective: Offer the stranger shelter.
        context: A gale batters the lighthouse.
      - name: The Morning After
        objective: Learn the stranger's name.
        context: Calm water and a quiet kitchen.
  - id: autumn-court
    name: Autumn Court
    chapters:
      - name: Masquerade
        objective: Dance with the masked prince.
        context: A palace ballroom.
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "autumn-court", list[0].ID)
	assert.Equal(t, "moonlit-harbor", list[1].ID)

	s, err := c.Story("moonlit-harbor")
	require.NoError(t, err)
	assert.Len(t, s.Chapters, 2)

	cc, err := s.ChapterContext(1)
	require.NoError(t, err)
	assert.Equal(t, ChapterContext{
		StoryName:        "Moonlit Harbor",
		ChapterName:      "The Morning After",
		ChapterContext:   "Calm water and a quiet kitchen.",
		ChapterObjective: "Learn the stranger's name.",
	}, cc)
}

func TestCatalogLookupErrors(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	_, err = c.Story("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s, _ := c.Story("autumn-court")
	_, err = s.Chapter(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Chapter(-1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewCatalogRejectsInvalidStories(t *testing.T) {
	tests := []struct {
		name    string
		stories []Story
	}{
		{"missing id", []Story{{Name: "x", Chapters: []Chapter{{Name: "a"}}}}},
		{"duplicate id", []Story{
			{ID: "a", Chapters: []Chapter{{Name: "a"}}},
			{ID: "a", Chapters: []Chapter{{Name: "b"}}},
		}},
		{"no chapters", []Story{{ID: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.stories)
			assert.Error(t, err)
		})
	}
}

func TestShippedCatalogLoads(t *testing.T) {
	c, err := LoadCatalog("../stories.yaml")
	require.NoError(t, err)
	for _, s := range c.List() {
		for i := range s.Chapters {
			ch, err := s.ChapterContext(i)
			require.NoError(t, err)
			assert.NotEmpty(t, ch.ChapterObjective, "%s chapter %d", s.ID, i)
		}
	}
}
