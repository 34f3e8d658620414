package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lovelore/story"
)

// Memory keeps everything in process. Used for local play and tests.
type Memory struct {
	mu            sync.Mutex
	conversations []story.Conversation
	messages      map[string][]story.Message
	progress      map[progressKey]story.ChapterProgress
	now           func() time.Time
}

type progressKey struct {
	userID  string
	worldID string
	chapter int
}

func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]story.Message),
		progress: make(map[progressKey]story.ChapterProgress),
		now:      time.Now,
	}
}

func (m *Memory) LatestConversation(_ context.Context, worldID, userID string, chapter int) (story.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found  story.Conversation
		exists bool
	)
	for _, c := range m.conversations {
		if c.WorldID != worldID || c.UserID != userID || c.ChapterIndex != chapter {
			continue
		}
		if !exists || !c.CreatedAt.Before(found.CreatedAt) {
			found, exists = c, true
		}
	}
	if !exists {
		return story.Conversation{}, ErrNotFound
	}
	return found, nil
}

func (m *Memory) CreateConversation(_ context.Context, c story.Conversation) (story.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.conversations = append(m.conversations, c)
	return c, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg story.Message) (story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendLocked(msg), nil
}

func (m *Memory) AppendMessages(_ context.Context, msgs []story.Message) ([]story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]story.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, m.appendLocked(msg))
	}
	return out, nil
}

func (m *Memory) appendLocked(msg story.Message) story.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	list := append(m.messages[msg.ConversationID], msg)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.messages[msg.ConversationID] = list
	return msg
}

func (m *Memory) Messages(_ context.Context, conversationID string) ([]story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]story.Message(nil), m.messages[conversationID]...), nil
}

func (m *Memory) LastMessages(_ context.Context, conversationID string, n int) ([]story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.messages[conversationID]
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return append([]story.Message(nil), list...), nil
}

// SaveProgress is idempotent; the first completion time wins.
func (m *Memory) SaveProgress(_ context.Context, p story.ChapterProgress) (story.ChapterProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := progressKey{userID: p.UserID, worldID: p.WorldID, chapter: p.ChapterIndex}
	if prev, ok := m.progress[key]; ok && prev.Completed {
		return prev, nil
	}
	if p.CompletedAt.IsZero() {
		p.CompletedAt = m.now()
	}
	m.progress[key] = p
	return p, nil
}

func (m *Memory) Progress(_ context.Context, worldID, userID string) ([]story.ChapterProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []story.ChapterProgress
	for k, p := range m.progress {
		if k.worldID == worldID && k.userID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterIndex < out[j].ChapterIndex })
	return out, nil
}
