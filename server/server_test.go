package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovelore/continuity"
	"lovelore/metrics"
	"lovelore/narrative"
	"lovelore/provider"
	"lovelore/store"
	"lovelore/story"
)

const testToken = "tok-ava"

// fakeProvider plays the upstream chat-completions API.
type fakeProvider struct {
	mu       sync.Mutex
	status   int
	errBody  string
	deltas   []string
	reply    string
	requests []provider.ChatRequest
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, errBody, deltas, reply := f.status, f.errBody, f.deltas, f.reply
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, errBody)
		return
	}
	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		chunk, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]string{"content": d}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func (f *fakeProvider) last() provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type stubLLM struct{ answer string }

func (s stubLLM) Complete(context.Context, narrative.Prompt) (string, error) {
	return s.answer, nil
}

var harbor = story.Story{
	ID:          "moonlit-harbor",
	Name:        "Moonlit Harbor",
	Description: "A seaside romance.",
	Chapters: []story.Chapter{
		{Name: "The Storm", Objective: "Find shelter.", Context: "A storm hits the harbor."},
		{Name: "The Morning After", Objective: "Learn the stranger's name.", Context: "Calm water."},
	},
}

type testEnv struct {
	upstream *fakeProvider
	store    *store.Memory
	metrics  *metrics.Collector
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fp := &fakeProvider{deltas: []string{"Rain ", "drums on ", "the roof."}, reply: `{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"hi"}}]}`}
	up := httptest.NewServer(fp)
	t.Cleanup(up.Close)

	client, err := provider.New(provider.Settings{APIKey: "sk-test", BaseURL: up.URL})
	require.NoError(t, err)
	classifier, err := narrative.NewClassifier(stubLLM{answer: "YES"}, nil)
	require.NoError(t, err)
	narrator, err := narrative.NewNarrator(client, classifier, narrative.NarratorOptions{Model: "deepseek-chat", Temperature: 0.8, MaxTokens: 600})
	require.NoError(t, err)
	mem := store.NewMemory()
	engine, err := narrative.NewEngine(narrator, mem, continuity.NewFetcher(mem, mem, continuity.DefaultLimit, nil), narrative.EngineOptions{})
	require.NoError(t, err)
	catalog, err := story.NewCatalog([]story.Story{harbor})
	require.NoError(t, err)

	m := metrics.NewCollector("lovelore")
	srv, err := New(Options{
		Catalog:  catalog,
		Engine:   engine,
		Upstream: client,
		Defaults: ChatDefaults{Model: "deepseek-chat", Temperature: 0.7, MaxTokens: 256},
		Auth:     StaticAuthenticator{Tokens: map[string]string{testToken: "ava"}},
		Metrics:  m,
	})
	require.NoError(t, err)
	return &testEnv{upstream: fp, store: mem, metrics: m, handler: srv.Routes()}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	for _, auth := range []string{"", "Bearer nope", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/api/stories", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
		assert.Equal(t, "unauthorized", decodeError(t, rec).Kind)
	}
}

func TestStories(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/stories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Stories []story.Story `json:"stories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Stories, 1)
	assert.Equal(t, "moonlit-harbor", list.Stories[0].ID)

	rec = env.do(http.MethodGet, "/api/stories/moonlit-harbor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one story.Story
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Len(t, one.Chapters, 2)

	rec = env.do(http.MethodGet, "/api/stories/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/stories", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lovelore_http_requests_total{method="GET",route="/api/stories",status="200"} 1`)
}
