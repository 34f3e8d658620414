package server

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"lovelore/provider"
	"lovelore/stream"
)

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages" validate:"required,min=1,dive"`
	Temperature *float64           `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int               `json:"max_tokens" validate:"omitempty,gte=0"`
	Stream      bool               `json:"stream"`
}

func (s *Server) chatRequest(in chatRequest) provider.ChatRequest {
	out := provider.ChatRequest{
		Model:       in.Model,
		Messages:    in.Messages,
		Temperature: s.defaults.Temperature,
		MaxTokens:   s.defaults.MaxTokens,
		Stream:      in.Stream,
	}
	if out.Model == "" {
		out.Model = s.defaults.Model
	}
	if in.Temperature != nil {
		out.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		out.MaxTokens = *in.MaxTokens
	}
	return out
}

// handleChat forwards a chat completion with server-held credentials.
// Streamed answers are relayed as plain text, one flush per delta.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if !decode(w, r, &in) {
		return
	}
	req := s.chatRequest(in)
	s.metrics.ObserveProxy(req.Stream)
	log := s.log.With(zap.String("request_id", GetRequestID(r.Context())), zap.Bool("stream", req.Stream))

	if !req.Stream {
		body, err := s.upstream.Complete(r.Context(), req)
		if err != nil {
			s.upstreamFailed(w, log, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	body, err := s.upstream.Stream(r.Context(), req)
	if err != nil {
		s.upstreamFailed(w, log, err)
		return
	}
	defer body.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	content, err := stream.Consume(body, func(delta string) {
		_, _ = io.WriteString(w, delta)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		// 响应头已发送，只能记录并断开。
		log.Warn("chat relay interrupted", zap.Int("delivered", len(content)), zap.Error(err))
	}
}

func (s *Server) upstreamFailed(w http.ResponseWriter, log *zap.Logger, err error) {
	var up *provider.UpstreamError
	if errors.As(err, &up) {
		s.metrics.ObserveUpstreamError(up.StatusCode)
	}
	log.Warn("chat upstream failed", zap.Error(err))
	writeErr(w, err)
}
