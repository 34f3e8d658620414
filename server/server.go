package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"lovelore/metrics"
	"lovelore/narrative"
	"lovelore/provider"
	"lovelore/story"
)

// DefaultTurnTimeout bounds one narrative turn, both provider calls included.
const DefaultTurnTimeout = 2 * time.Minute

// ChatUpstream is the provider side of the chat proxy.
type ChatUpstream interface {
	Complete(ctx context.Context, req provider.ChatRequest) (json.RawMessage, error)
	Stream(ctx context.Context, req provider.ChatRequest) (io.ReadCloser, error)
}

// ChatDefaults fill proxy requests that leave model settings out.
type ChatDefaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Options wire a Server. Catalog, Engine, Upstream and Auth are required.
type Options struct {
	Catalog     *story.Catalog
	Engine      *narrative.Engine
	Upstream    ChatUpstream
	Defaults    ChatDefaults
	Auth        Authenticator
	Metrics     *metrics.Collector
	Logger      *zap.Logger
	CORSOrigins []string
	TurnTimeout time.Duration
}

type Server struct {
	catalog     *story.Catalog
	engine      *narrative.Engine
	upstream    ChatUpstream
	defaults    ChatDefaults
	auth        Authenticator
	metrics     *metrics.Collector
	log         *zap.Logger
	origins     []string
	turnTimeout time.Duration
}

func New(opts Options) (*Server, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("story catalog required")
	case opts.Engine == nil:
		return nil, errors.New("narrative engine required")
	case opts.Upstream == nil:
		return nil, errors.New("chat upstream required")
	case opts.Auth == nil:
		return nil, errors.New("authenticator required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector("lovelore")
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	timeout := opts.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	return &Server{
		catalog:     opts.Catalog,
		engine:      opts.Engine,
		upstream:    opts.Upstream,
		defaults:    opts.Defaults,
		auth:        opts.Auth,
		metrics:     m,
		log:         log.Named("http"),
		origins:     origins,
		turnTimeout: timeout,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := s.newRouter()

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/chat", s.handleChat)

		r.Get("/stories", s.handleStories)
		r.Route("/stories/{storyID}", func(r chi.Router) {
			r.Get("/", s.handleStory)
			r.Get("/progress", s.handleProgress)
			r.Route("/chapters/{index}", func(r chi.Router) {
				r.Post("/turns", s.handleTurn)
				r.Get("/messages", s.handleMessages)
				r.Post("/complete", s.handleComplete)
			})
		})
	})
	return r
}

// newRouter installs the middleware stack. logRequests sits outside recoverer
// so recovered panics are still logged and counted.
func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
