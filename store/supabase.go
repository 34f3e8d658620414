package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"lovelore/story"
)

const (
	tableConversations = "conversations"
	tableMessages      = "messages"
	tableProgress      = "chapter_progress"
)

// Supabase reads and appends rows through PostgREST. The client does not take
// a context, so ctx is only checked before each call.
type Supabase struct {
	client *supabase.Client
	log    *zap.Logger
}

// NewSupabaseClient builds a client with the service role key.
func NewSupabaseClient(url, serviceKey string) (*supabase.Client, error) {
	if url == "" || serviceKey == "" {
		return nil, errors.New("supabase url and service role key are required")
	}
	client, err := supabase.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

func NewSupabase(client *supabase.Client, log *zap.Logger) *Supabase {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supabase{client: client, log: log.Named("supabase")}
}

type conversationRow struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"world_id"`
	UserID    string    `json:"user_id"`
	ChapterID int       `json:"chapter_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (r conversationRow) toConversation() story.Conversation {
	return story.Conversation{
		ID:           r.ID,
		WorldID:      r.WorldID,
		UserID:       r.UserID,
		ChapterIndex: r.ChapterID,
		CreatedAt:    r.CreatedAt,
	}
}

type messageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

func (r messageRow) toMessage() story.Message {
	return story.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           story.Role(r.Role),
		Content:        r.Content,
		Timestamp:      r.Timestamp,
	}
}

type progressRow struct {
	UserID      string    `json:"user_id"`
	WorldID     string    `json:"world_id"`
	ChapterID   int       `json:"chapter_id"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completed_at"`
}

func (r progressRow) toProgress() story.ChapterProgress {
	return story.ChapterProgress{
		UserID:       r.UserID,
		WorldID:      r.WorldID,
		ChapterIndex: r.ChapterID,
		Completed:    r.Completed,
		CompletedAt:  r.CompletedAt,
	}
}

func (s *Supabase) LatestConversation(ctx context.Context, worldID, userID string, chapter int) (story.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return story.Conversation{}, err
	}
	var rows []conversationRow
	_, err := s.client.From(tableConversations).
		Select("*", "", false).
		Eq("world_id", worldID).
		Eq("user_id", userID).
		Eq("chapter_id", strconv.Itoa(chapter)).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return story.Conversation{}, fmt.Errorf("query %s: %w", tableConversations, err)
	}
	if len(rows) == 0 {
		return story.Conversation{}, ErrNotFound
	}
	return rows[0].toConversation(), nil
}

func (s *Supabase) CreateConversation(ctx context.Context, c story.Conversation) (story.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return story.Conversation{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	row := conversationRow{
		ID:        c.ID,
		WorldID:   c.WorldID,
		UserID:    c.UserID,
		ChapterID: c.ChapterIndex,
		CreatedAt: c.CreatedAt,
	}
	var out []conversationRow
	if _, err := s.client.From(tableConversations).Insert(row, false, "", "representation", "").ExecuteTo(&out); err != nil {
		return story.Conversation{}, fmt.Errorf("insert %s: %w", tableConversations, err)
	}
	s.log.Debug("conversation created",
		zap.String("conversation_id", c.ID),
		zap.String("world_id", c.WorldID),
		zap.Int("chapter", c.ChapterIndex))
	if len(out) > 0 {
		return out[0].toConversation(), nil
	}
	return c, nil
}

func (s *Supabase) AppendMessage(ctx context.Context, m story.Message) (story.Message, error) {
	out, err := s.AppendMessages(ctx, []story.Message{m})
	if err != nil {
		return story.Message{}, err
	}
	return out[0], nil
}

// AppendMessages inserts every row in one request, so PostgREST stores all or none.
func (s *Supabase) AppendMessages(ctx context.Context, msgs []story.Message) ([]story.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msgs = append([]story.Message(nil), msgs...)
	rows := make([]messageRow, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = time.Now().UTC()
		}
		rows = append(rows, messageRow{
			ID:             msgs[i].ID,
			ConversationID: msgs[i].ConversationID,
			Role:           string(msgs[i].Role),
			Content:        msgs[i].Content,
			Timestamp:      msgs[i].Timestamp,
		})
	}
	var out []messageRow
	if _, err := s.client.From(tableMessages).Insert(rows, false, "", "representation", "").ExecuteTo(&out); err != nil {
		return nil, fmt.Errorf("insert %s: %w", tableMessages, err)
	}
	if len(out) != len(msgs) {
		return msgs, nil
	}
	stored := make([]story.Message, 0, len(out))
	for _, r := range out {
		stored = append(stored, r.toMessage())
	}
	return stored, nil
}

func (s *Supabase) Messages(ctx context.Context, conversationID string) ([]story.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []messageRow
	_, err := s.client.From(tableMessages).
		Select("*", "", false).
		Eq("conversation_id", conversationID).
		Order("timestamp", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tableMessages, err)
	}
	out := make([]story.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out, nil
}

// LastMessages reads the newest n rows and returns them oldest-first.
func (s *Supabase) LastMessages(ctx context.Context, conversationID string, n int) ([]story.Message, error) {
	if n <= 0 {
		return s.Messages(ctx, conversationID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []messageRow
	_, err := s.client.From(tableMessages).
		Select("*", "", false).
		Eq("conversation_id", conversationID).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false}).
		Limit(n, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tableMessages, err)
	}
	out := make([]story.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toMessage()
	}
	return out, nil
}

// SaveProgress keeps the first completion time of a chapter; confirming it
// again returns the stored row.
func (s *Supabase) SaveProgress(ctx context.Context, p story.ChapterProgress) (story.ChapterProgress, error) {
	if err := ctx.Err(); err != nil {
		return story.ChapterProgress{}, err
	}
	var existing []progressRow
	_, err := s.client.From(tableProgress).
		Select("*", "", false).
		Eq("world_id", p.WorldID).
		Eq("user_id", p.UserID).
		Eq("chapter_id", strconv.Itoa(p.ChapterIndex)).
		Limit(1, "").
		ExecuteTo(&existing)
	if err != nil {
		return story.ChapterProgress{}, fmt.Errorf("query %s: %w", tableProgress, err)
	}
	if len(existing) > 0 && existing[0].Completed {
		return existing[0].toProgress(), nil
	}

	if p.CompletedAt.IsZero() {
		p.CompletedAt = time.Now().UTC()
	}
	row := progressRow{
		UserID:      p.UserID,
		WorldID:     p.WorldID,
		ChapterID:   p.ChapterIndex,
		Completed:   p.Completed,
		CompletedAt: p.CompletedAt,
	}
	var out []progressRow
	_, err = s.client.From(tableProgress).
		Insert(row, true, "user_id,world_id,chapter_id", "representation", "").
		ExecuteTo(&out)
	if err != nil {
		return story.ChapterProgress{}, fmt.Errorf("upsert %s: %w", tableProgress, err)
	}
	if len(out) > 0 {
		return out[0].toProgress(), nil
	}
	return p, nil
}

func (s *Supabase) Progress(ctx context.Context, worldID, userID string) ([]story.ChapterProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []progressRow
	_, err := s.client.From(tableProgress).
		Select("*", "", false).
		Eq("world_id", worldID).
		Eq("user_id", userID).
		Order("chapter_id", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tableProgress, err)
	}
	out := make([]story.ChapterProgress, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProgress())
	}
	return out, nil
}
