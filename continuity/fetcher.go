// Package continuity carries the end of one chapter into the next.
package continuity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lovelore/store"
	"lovelore/story"
)

// DefaultLimit is how many messages of the previous chapter are fetched.
const DefaultLimit = 4

// Fetcher reads the tail of the previous chapter's conversation.
type Fetcher struct {
	conversations store.Conversations
	messages      store.Messages
	limit         int
	log           *zap.Logger
}

// NewFetcher returns a Fetcher; limit <= 0 means DefaultLimit.
func NewFetcher(conversations store.Conversations, messages store.Messages, limit int, log *zap.Logger) *Fetcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		conversations: conversations,
		messages:      messages,
		limit:         limit,
		log:           log.Named("continuity"),
	}
}

// Limit reports how many messages Previous returns at most.
func (f *Fetcher) Limit() int { return f.limit }

// Previous returns the last messages, oldest first, of the most recent
// conversation for (world, user, prevIndex). A missing conversation yields an
// empty list and no error.
func (f *Fetcher) Previous(ctx context.Context, worldID, userID string, prevIndex int) ([]story.Message, error) {
	if prevIndex < 0 {
		return []story.Message{}, nil
	}
	conv, err := f.conversations.LatestConversation(ctx, worldID, userID, prevIndex)
	if errors.Is(err, store.ErrNotFound) {
		f.log.Debug("no previous conversation",
			zap.String("world_id", worldID),
			zap.Int("chapter", prevIndex))
		return []story.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find chapter %d conversation: %w", prevIndex, err)
	}

	msgs, err := f.messages.LastMessages(ctx, conv.ID, f.limit)
	if err != nil {
		return nil, fmt.Errorf("load chapter %d messages: %w", prevIndex, err)
	}
	if msgs == nil {
		msgs = []story.Message{}
	}
	return msgs, nil
}
