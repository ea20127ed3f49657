package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/shared"
)

func stackRouter(logger *slog.Logger, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: logger, Config: &Config{AppEnv: "development"}}) {
		r.Use(mw)
	}
	r.Get("/ping", handler)
	return r
}

func TestMiddlewareCarriesActorAndRequestID(t *testing.T) {
	var seen string
	router := stackRouter(nil, func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(shared.ActorHeader, "  u-anna ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, "u-anna", seen)
	require.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(shared.ActorHeader, strings.Repeat("a", maxActorLen+1))
	router.ServeHTTP(httptest.NewRecorder(), req)
	require.Empty(t, seen)
}

func TestAccessLogRaisesServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := stackRouter(logger, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(shared.ActorHeader, "u-ben")
	router.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	require.Contains(t, out, `"level":"ERROR"`)
	require.Contains(t, out, `"status":502`)
	require.Contains(t, out, `"actor":"u-ben"`)
	require.Contains(t, out, `"component":"http"`)
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	router := stackRouter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
