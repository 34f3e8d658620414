package narrative

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"lovelore/provider"
	"lovelore/story"
)

// mockLLM 返回固定答案并记录收到的 Prompt。
type mockLLM struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []Prompt
}

func (m *mockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.answer, m.err
}

// fakeTransport replays a canned event stream.
type fakeTransport struct {
	mu       sync.Mutex
	body     string
	readErr  error
	err      error
	requests []provider.ChatRequest
}

func (f *fakeTransport) Stream(_ context.Context, req provider.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(r, errReader{f.readErr})
	}
	return io.NopCloser(r), nil
}

func (f *fakeTransport) last() provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// sse frames deltas the way the provider does.
func sse(deltas ...string) string {
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(`data: {"choices":[{"delta":{"content":"`)
		sb.WriteString(strings.ReplaceAll(d, "\n", `\n`))
		sb.WriteString("\"}}]}\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

// continuitySpy records the chapters it was asked about.
type continuitySpy struct {
	mu    sync.Mutex
	calls []int
	msgs  []story.Message
	err   error
}

func (c *continuitySpy) Previous(_ context.Context, _, _ string, prevIndex int) ([]story.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, prevIndex)
	return c.msgs, c.err
}

var errBoom = errors.New("boom")
