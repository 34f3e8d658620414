// Package store is the persistence collaborator of the narrative pipeline.
// Conversations and messages are created once and appended to; nothing here
// updates or deletes them.
package store

import (
	"context"
	"errors"

	"lovelore/story"
)

// ErrNotFound is returned when no conversation matches a lookup.
var ErrNotFound = errors.New("store: not found")

// Conversations finds and lazily creates conversations.
type Conversations interface {
	// LatestConversation returns the most recent conversation of the tuple or ErrNotFound.
	LatestConversation(ctx context.Context, worldID, userID string, chapter int) (story.Conversation, error)
	CreateConversation(ctx context.Context, c story.Conversation) (story.Conversation, error)
}

// Messages reads and appends conversation messages. Reads are oldest-first.
type Messages interface {
	AppendMessage(ctx context.Context, m story.Message) (story.Message, error)
	// AppendMessages stores all of msgs or none of them.
	AppendMessages(ctx context.Context, msgs []story.Message) ([]story.Message, error)
	Messages(ctx context.Context, conversationID string) ([]story.Message, error)
	LastMessages(ctx context.Context, conversationID string, n int) ([]story.Message, error)
}

// Progress records confirmed chapter completions.
type Progress interface {
	SaveProgress(ctx context.Context, p story.ChapterProgress) (story.ChapterProgress, error)
	Progress(ctx context.Context, worldID, userID string) ([]story.ChapterProgress, error)
}

// Store is everything the service persists.
type Store interface {
	Conversations
	Messages
	Progress
}
