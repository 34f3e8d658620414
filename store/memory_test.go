package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovelore/story"
)

var _ Store = (*Memory)(nil)
var _ Store = (*Supabase)(nil)

func TestMemoryLatestConversation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LatestConversation(ctx, "w", "u", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)
	older, err := m.CreateConversation(ctx, story.Conversation{WorldID: "w", UserID: "u", ChapterIndex: 1, CreatedAt: base})
	require.NoError(t, err)
	newer, err := m.CreateConversation(ctx, story.Conversation{WorldID: "w", UserID: "u", ChapterIndex: 1, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = m.CreateConversation(ctx, story.Conversation{WorldID: "w", UserID: "other", ChapterIndex: 1, CreatedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	assert.NotEmpty(t, older.ID)
	got, err := m.LatestConversation(ctx, "w", "u", 1)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestMemoryMessagesAreOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)

	// Appended out of order on purpose.
	for _, i := range []int{3, 0, 2, 1, 4} {
		_, err := m.AppendMessage(ctx, story.Message{
			ConversationID: "c",
			Role:           story.RoleUser,
			Content:        fmt.Sprintf("m%d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := m.Messages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, msg := range all {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
	}

	last, err := m.LastMessages(ctx, "c", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m3", last[0].Content)
	assert.Equal(t, "m4", last[1].Content)

	none, err := m.LastMessages(ctx, "missing", 4)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemorySaveProgressIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := m.SaveProgress(ctx, story.ChapterProgress{UserID: "u", WorldID: "w", ChapterIndex: 1, Completed: true, CompletedAt: first})
	require.NoError(t, err)
	again, err := m.SaveProgress(ctx, story.ChapterProgress{UserID: "u", WorldID: "w", ChapterIndex: 1, Completed: true, CompletedAt: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, first, again.CompletedAt)

	_, err = m.SaveProgress(ctx, story.ChapterProgress{UserID: "u", WorldID: "w", ChapterIndex: 0, Completed: true})
	require.NoError(t, err)

	list, err := m.Progress(ctx, "w", "u")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].ChapterIndex)
	assert.Equal(t, 1, list[1].ChapterIndex)
}

func TestMemoryAppendMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)

	out, err := m.AppendMessages(ctx, []story.Message{
		{ConversationID: "c", Role: story.RoleUser, Content: "hello", Timestamp: base},
		{ConversationID: "c", Role: story.RoleAssistant, Content: "hi", Timestamp: base.Add(time.Second)},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ID, out[1].ID)

	all, err := m.Messages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, story.RoleUser, all[0].Role)
	assert.Equal(t, "hi", all[1].Content)
}
