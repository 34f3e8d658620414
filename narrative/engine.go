package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lovelore/continuity"
	"lovelore/store"
	"lovelore/story"
)

// ErrEmptyPrompt is returned for a turn without user text.
var ErrEmptyPrompt = errors.New("narrative: prompt is empty")

// ContinuitySource returns the tail of a previous chapter.
type ContinuitySource interface {
	Previous(ctx context.Context, worldID, userID string, prevIndex int) ([]story.Message, error)
}

// TurnRequest is one user action inside a chapter.
type TurnRequest struct {
	// RequestID is generated by the client; a repeated id is rejected.
	RequestID    string
	UserID       string
	StoryID      string
	ChapterIndex int
	Chapter      story.ChapterContext
	Prompt       string
}

// EngineOptions configure an Engine.
type EngineOptions struct {
	// HistoryWindow caps the in-chapter history sent with each turn to the
	// newest K messages. Zero sends all of it.
	HistoryWindow int
	GuardTTL      time.Duration
	Logger        *zap.Logger
}

// Engine plays chapters: it loads and appends persisted history around the
// Narrator. Each turn is recomputed from the store.
type Engine struct {
	narrator   *Narrator
	store      store.Store
	continuity ContinuitySource
	guard      *turnGuard
	window     int
	now        func() time.Time
	log        *zap.Logger
}

func NewEngine(narrator *Narrator, st store.Store, cont ContinuitySource, opts EngineOptions) (*Engine, error) {
	if narrator == nil {
		return nil, errors.New("narrator is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		narrator:   narrator,
		store:      st,
		continuity: cont,
		guard:      newTurnGuard(opts.GuardTTL),
		window:     opts.HistoryWindow,
		now:        time.Now,
		log:        log.Named("engine"),
	}, nil
}

// Turn plays one user action. Only a successful turn is persisted; any other
// outcome releases its request id so it can be retried.
func (e *Engine) Turn(ctx context.Context, req TurnRequest, onDelta func(string)) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{Status: StatusFailed}, ErrEmptyPrompt
	}
	if err := e.guard.begin(req.RequestID); err != nil {
		return Result{Status: StatusFailed}, err
	}

	res, err := e.turn(ctx, req, onDelta)
	if err != nil || res.Status != StatusSuccess {
		e.guard.release(req.RequestID)
	} else {
		e.guard.finish(req.RequestID)
	}
	return res, err
}

func (e *Engine) turn(ctx context.Context, req TurnRequest, onDelta func(string)) (Result, error) {
	started := e.now()

	conv, err := e.conversation(ctx, req.StoryID, req.UserID, req.ChapterIndex)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	history, err := e.store.Messages(ctx, conv.ID)
	if err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("load chapter history: %w", err)
	}

	in := TurnInput{
		Prompt:  req.Prompt,
		Chapter: req.Chapter,
		History: lastN(history, e.window),
	}
	// 第一章没有前情，不查询。
	if req.ChapterIndex > 0 && e.continuity != nil {
		prior, err := e.continuity.Previous(ctx, req.StoryID, req.UserID, req.ChapterIndex-1)
		if err != nil {
			e.log.Warn("continuity unavailable", zap.String("story_id", req.StoryID), zap.Int("chapter", req.ChapterIndex), zap.Error(err))
		} else if len(prior) > 0 {
			in.PriorChapter = prior
			in.Summary = continuity.FormatPreviousChapterSummary(prior)
		}
	}

	res, err := e.narrator.Generate(ctx, in, onDelta)
	if err != nil || res.Status != StatusSuccess {
		return res, err
	}

	if err := e.persist(ctx, conv.ID, req.Prompt, res.Content, started); err != nil {
		// 内容已经推送给用户，但没有落库，按 partial 处理。
		return Result{Status: StatusPartial, Content: res.Content}, err
	}
	e.log.Info("turn completed",
		zap.String("story_id", req.StoryID),
		zap.Int("chapter", req.ChapterIndex),
		zap.Bool("objective_completed", res.ObjectiveCompleted),
		zap.Duration("elapsed", e.now().Sub(started)))
	return res, nil
}

// persist appends the user message and the narration together.
func (e *Engine) persist(ctx context.Context, conversationID, prompt, narration string, started time.Time) error {
	replyAt := e.now()
	if !replyAt.After(started) {
		replyAt = started.Add(time.Millisecond)
	}
	_, err := e.store.AppendMessages(ctx, []story.Message{
		{ConversationID: conversationID, Role: story.RoleUser, Content: prompt, Timestamp: started},
		{ConversationID: conversationID, Role: story.RoleAssistant, Content: narration, Timestamp: replyAt},
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// conversation finds the latest conversation of the chapter or creates it.
func (e *Engine) conversation(ctx context.Context, storyID, userID string, chapter int) (story.Conversation, error) {
	conv, err := e.store.LatestConversation(ctx, storyID, userID, chapter)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return story.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	conv, err = e.store.CreateConversation(ctx, story.Conversation{
		WorldID:      storyID,
		UserID:       userID,
		ChapterIndex: chapter,
	})
	if err != nil {
		return story.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// History returns the chapter's messages, oldest first; empty before the first turn.
func (e *Engine) History(ctx context.Context, storyID, userID string, chapter int) ([]story.Message, error) {
	conv, err := e.store.LatestConversation(ctx, storyID, userID, chapter)
	if errors.Is(err, store.ErrNotFound) {
		return []story.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return e.store.Messages(ctx, conv.ID)
}

// CompleteChapter records the user's confirmation that a chapter is done.
func (e *Engine) CompleteChapter(ctx context.Context, storyID, userID string, chapter int) (story.ChapterProgress, error) {
	return e.store.SaveProgress(ctx, story.ChapterProgress{
		UserID:       userID,
		WorldID:      storyID,
		ChapterIndex: chapter,
		Completed:    true,
	})
}

// Progress lists the completed chapters of a story for a user.
func (e *Engine) Progress(ctx context.Context, storyID, userID string) ([]story.ChapterProgress, error) {
	return e.store.Progress(ctx, storyID, userID)
}
