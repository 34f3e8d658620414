package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lovelore/metrics"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an id when none is sent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		var seen string
		RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		})).ServeHTTP(w, req)

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "test-request-id")
		w := httptest.NewRecorder()

		RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-request-id", GetRequestID(r.Context()))
		})).ServeHTTP(w, req)

		assert.Equal(t, "test-request-id", w.Header().Get(RequestIDHeader))
	})
}

func TestRecoverer(t *testing.T) {
	s := &Server{log: zap.NewNop()}

	t.Run("turns a panic into a 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("test panic")
		})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"internal"`)
	})

	t.Run("passes normal requests through", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.recoverer(http.HandlerFunc(handleHealth)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("re-panics on abort", func(t *testing.T) {
		h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		})
	})
}

func TestPanicIsLoggedAndCounted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := metrics.NewCollector("lovelore")
	s := &Server{log: zap.New(core), metrics: m}

	r := s.newRouter()
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("test panic") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/boom", "500")))
	reqs := logs.FilterMessage("request").All()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(http.StatusInternalServerError), reqs[0].ContextMap()["status"])
	assert.Equal(t, 1, logs.FilterMessage("panic").Len())
}

func TestStaticAuthenticator(t *testing.T) {
	a := StaticAuthenticator{Tokens: map[string]string{"t1": "u1"}}
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	_, err = a.Authenticate(ctx, "t2")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	dev := StaticAuthenticator{DefaultUser: "dev"}
	id, err = dev.Authenticate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "dev", id)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, bearerToken(req), header)
	}
}

func TestClassify(t *testing.T) {
	status, detail := classify(context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "timeout", detail.Kind)

	status, detail = classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", detail.Message)
}
