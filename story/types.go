package story

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a story or chapter is not in the catalog.
var ErrNotFound = errors.New("story: not found")

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chapter is one step of a story; it is addressed by its index.
type Chapter struct {
	Name      string `yaml:"name" json:"name"`
	Objective string `yaml:"objective" json:"objective"`
	Context   string `yaml:"context" json:"context"`
}

// Story describes a world and its ordered chapters. Read-only for the pipeline.
type Story struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Chapters    []Chapter `yaml:"chapters" json:"chapters"`
}

// Chapter returns the chapter at index.
func (s Story) Chapter(index int) (Chapter, error) {
	if index < 0 || index >= len(s.Chapters) {
		return Chapter{}, ErrNotFound
	}
	return s.Chapters[index], nil
}

// ChapterContext builds the record handed to the narrative pipeline.
func (s Story) ChapterContext(index int) (ChapterContext, error) {
	ch, err := s.Chapter(index)
	if err != nil {
		return ChapterContext{}, err
	}
	return ChapterContext{
		StoryName:        s.Name,
		ChapterName:      ch.Name,
		ChapterContext:   ch.Context,
		ChapterObjective: ch.Objective,
	}, nil
}

// ChapterContext is what the narrator knows about the chapter being played.
type ChapterContext struct {
	StoryName        string `json:"storyName"`
	ChapterName      string `json:"chapterName"`
	ChapterContext   string `json:"chapterContext"`
	ChapterObjective string `json:"chapterObjective"`
}

// Conversation ties a user, a world and a chapter index to a message log.
type Conversation struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"world_id"`
	UserID       string    `json:"user_id"`
	ChapterIndex int       `json:"chapter_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is append-only and ordered by Timestamp.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChapterProgress records a confirmed chapter completion.
type ChapterProgress struct {
	UserID       string    `json:"user_id"`
	WorldID      string    `json:"world_id"`
	ChapterIndex int       `json:"chapter_id"`
	Completed    bool      `json:"completed"`
	CompletedAt  time.Time `json:"completed_at"`
}
