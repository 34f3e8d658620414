package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ConfigError means the transport cannot be built; never retried.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider config: %s is required", e.Field)
}

// UpstreamError carries a non-2xx answer from the provider.
type UpstreamError struct {
	StatusCode int
	Status     string // e.g. "429 Too Many Requests"
	Message    string // provider's error message, if any
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream error: %s", e.Status)
	}
	return fmt.Sprintf("upstream error: %s: %s", e.Status, e.Message)
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// newUpstreamError prefers the provider's JSON error message and falls back
// to the raw body.
func newUpstreamError(resp *http.Response, body []byte) *UpstreamError {
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	msg := strings.TrimSpace(string(body))
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Status: status, Message: msg}
}
