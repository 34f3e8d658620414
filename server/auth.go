package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// ErrUnauthorized is returned for a missing or rejected access token.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator maps an access token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// SupabaseAuthenticator validates Supabase access tokens against the project's auth API.
type SupabaseAuthenticator struct {
	client *supabase.Client
}

func NewSupabaseAuthenticator(client *supabase.Client) *SupabaseAuthenticator {
	return &SupabaseAuthenticator{client: client}
}

func (a *SupabaseAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	// GetUser 不接受 context，请求超时由 supabase 客户端自身控制。
	user, err := a.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return user.ID.String(), nil
}

// StaticAuthenticator accepts a fixed set of tokens. With DefaultUser set,
// requests without a token run as that user; used for --dev and tests.
type StaticAuthenticator struct {
	Tokens      map[string]string
	DefaultUser string
}

func (a StaticAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		if a.DefaultUser != "" {
			return a.DefaultUser, nil
		}
		return "", ErrUnauthorized
	}
	if id, ok := a.Tokens[token]; ok {
		return id, nil
	}
	return "", ErrUnauthorized
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
