package narrative

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"deepseek-chat",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"YES"}}]}`

func TestNewOpenAILLMValidation(t *testing.T) {
	_, err := NewOpenAILLMFromConfig(nil)
	assert.Error(t, err)
	_, err = NewOpenAILLMFromConfig(&LLMSettings{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAILLMFromConfig(&LLMSettings{APIKey: "k"})
	assert.Error(t, err)
}

func TestOpenAILLMSendsClassifierSettings(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	llm, err := NewOpenAILLMFromConfig(&LLMSettings{
		Model:       "deepseek-chat",
		APIKey:      "sk-test",
		BaseURL:     srv.URL,
		Temperature: 0.1,
		MaxTokens:   10,
	})
	require.NoError(t, err)
	c, err := NewClassifier(llm, nil)
	require.NoError(t, err)

	ok := c.Check(context.Background(), ObjectiveInput{
		Objective:     "Learn the stranger's name.",
		PriorTurns:    conversation(2, "before"),
		UserInput:     "Who are you?",
		AssistantText: "I'm Elias.",
	})
	assert.True(t, ok)

	require.NotNil(t, body)
	assert.Equal(t, "deepseek-chat", body["model"])
	assert.Equal(t, 0.1, body["temperature"])
	assert.Equal(t, float64(10), body["max_tokens"])
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 2)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestOpenAILLMFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	llm, err := NewOpenAILLMFromConfig(&LLMSettings{Model: "deepseek-chat", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	c, err := NewClassifier(llm, nil)
	require.NoError(t, err)

	assert.False(t, c.Check(context.Background(), ObjectiveInput{Objective: "x", UserInput: "y", AssistantText: "z"}))
	assert.Equal(t, int32(1), calls.Load())
}
