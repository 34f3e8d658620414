package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lovelore/narrative"
	"lovelore/provider"
	"lovelore/story"
)

type turnRequest struct {
	Prompt string `json:"prompt" validate:"required"`
	// RequestID is generated by the client; resending it is rejected with 409.
	RequestID string `json:"request_id" validate:"omitempty,max=128"`
}

type deltaEvent struct {
	Content string `json:"content"`
}

type turnErrorEvent struct {
	Error  errorDetail      `json:"error"`
	Result narrative.Result `json:"result"`
}

type messagesResp struct {
	StoryID      string          `json:"story_id"`
	ChapterIndex int             `json:"chapter_id"`
	Messages     []story.Message `json:"messages"`
}

type chapterProgress struct {
	Index       int        `json:"chapter_id"`
	Name        string     `json:"name"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type progressResp struct {
	StoryID  string            `json:"story_id"`
	Chapters []chapterProgress `json:"chapters"`
}

func (s *Server) handleStories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stories": s.catalog.List()})
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	st, err := s.catalog.Story(chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// chapter resolves the story and chapter index of the URL.
func (s *Server) chapter(r *http.Request) (story.Story, int, story.ChapterContext, error) {
	st, err := s.catalog.Story(chi.URLParam(r, "storyID"))
	if err != nil {
		return story.Story{}, 0, story.ChapterContext{}, err
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return story.Story{}, 0, story.ChapterContext{}, fmt.Errorf("chapter index %q: %w", chi.URLParam(r, "index"), story.ErrNotFound)
	}
	ch, err := st.ChapterContext(idx)
	if err != nil {
		return story.Story{}, 0, story.ChapterContext{}, fmt.Errorf("chapter %d of %s: %w", idx, st.ID, err)
	}
	return st, idx, ch, nil
}

// handleTurn plays one turn and streams it as server-sent events:
// "delta" per piece of narration, then "result" or "error".
// Failures before the first delta are plain JSON errors.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	st, idx, ch, err := s.chapter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in turnRequest
	if !decode(w, r, &in) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	log := s.log.With(
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("story_id", st.ID),
		zap.Int("chapter", idx))

	events := newEventStream(w)
	start := time.Now()
	res, err := s.engine.Turn(ctx, narrative.TurnRequest{
		RequestID:    in.RequestID,
		UserID:       UserID(r.Context()),
		StoryID:      st.ID,
		ChapterIndex: idx,
		Chapter:      ch,
		Prompt:       in.Prompt,
	}, func(delta string) {
		events.send("delta", deltaEvent{Content: delta})
	})
	s.metrics.ObserveTurn(string(res.Status), res.ObjectiveCompleted, time.Since(start))

	if err != nil {
		var up *provider.UpstreamError
		if errors.As(err, &up) {
			s.metrics.ObserveUpstreamError(up.StatusCode)
		}
		log.Warn("turn failed", zap.String("status", string(res.Status)), zap.Error(err))
		if !events.started {
			writeErr(w, err)
			return
		}
		_, detail := classify(err)
		events.send("error", turnErrorEvent{Error: detail, Result: res})
		return
	}
	events.send("result", res)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	st, idx, _, err := s.chapter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	msgs, err := s.engine.History(r.Context(), st.ID, UserID(r.Context()), idx)
	if err != nil {
		s.log.Error("load history", zap.String("story_id", st.ID), zap.Error(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResp{StoryID: st.ID, ChapterIndex: idx, Messages: msgs})
}

// handleComplete records the user's confirmation of a completed objective.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	st, idx, _, err := s.chapter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	p, err := s.engine.CompleteChapter(r.Context(), st.ID, UserID(r.Context()), idx)
	if err != nil {
		s.log.Error("save progress", zap.String("story_id", st.ID), zap.Int("chapter", idx), zap.Error(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	st, err := s.catalog.Story(chi.URLParam(r, "storyID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	done, err := s.engine.Progress(r.Context(), st.ID, UserID(r.Context()))
	if err != nil {
		s.log.Error("load progress", zap.String("story_id", st.ID), zap.Error(err))
		writeErr(w, err)
		return
	}
	byIndex := make(map[int]story.ChapterProgress, len(done))
	for _, p := range done {
		byIndex[p.ChapterIndex] = p
	}
	resp := progressResp{StoryID: st.ID, Chapters: make([]chapterProgress, 0, len(st.Chapters))}
	for i, ch := range st.Chapters {
		cp := chapterProgress{Index: i, Name: ch.Name}
		if p, ok := byIndex[i]; ok && p.Completed {
			at := p.CompletedAt
			cp.Completed = true
			cp.CompletedAt = &at
		}
		resp.Chapters = append(resp.Chapters, cp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventStream writes server-sent events; headers go out with the first event.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f}
}

func (e *eventStream) send(event string, v any) {
	if !e.started {
		h := e.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
