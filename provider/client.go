package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is DeepSeek's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.deepseek.com"

// Message is one entry of the chat-completion message list.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ChatRequest is the wire body sent to the provider.
type ChatRequest struct {
	Model       string    `json:"model" validate:"required"`
	Messages    []Message `json:"messages" validate:"required,min=1,dive"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty" validate:"gte=0"`
	Stream      bool      `json:"stream"`
}

// Settings configures a Client. APIKey is mandatory.
type Settings struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a whole request including the streamed body. Zero means none.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client forwards chat-completion requests with server-held credentials.
// It keeps no state between requests.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

func New(s Settings) (*Client, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, &ConfigError{Field: "api_key"}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: s.Timeout}
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		apiKey:   s.APIKey,
		endpoint: base + "/chat/completions",
		http:     hc,
		log:      log.Named("provider"),
	}, nil
}

// Complete sends a non-streaming request and returns the provider's JSON body unchanged.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	req.Stream = false
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("provider returned invalid JSON (%d bytes)", len(body))
	}
	return json.RawMessage(body), nil
}

// Stream sends a streaming request and returns the raw event-stream body.
// The caller must close it.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, req ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	c.log.Debug("chat request",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Bool("stream", req.Stream))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		upErr := newUpstreamError(resp, body)
		c.log.Warn("provider rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("message", upErr.Message),
			zap.Duration("elapsed", time.Since(start)))
		return nil, upErr
	}
	return resp, nil
}
