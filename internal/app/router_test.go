package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func testRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledgertest.New()
	store.AddItem("ITM001", 5)
	svc := ledger.NewService(store, ledger.ServiceConfig{Logger: logger})

	return NewRouter(RouterParams{
		Logger:        logger,
		Config:        &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		Metrics:       observability.NewMetrics(),
		LedgerHandler: ledger.NewHandler(logger, svc),
		JobHandler:    jobs.NewHandler(nil, logger),
		Checks:        checks,
	})
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(ActorHeader, "clerk-7")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := testRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := do(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	router = testRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = do(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestRouterMountsAPI(t *testing.T) {
	router := testRouter(t, nil)

	rec := do(router, http.MethodPost, "/api/v1/ledger", `{"item_code":"ITM001","kind":"INBOUND","quantity":12,"reason":"opening"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(router, http.MethodGet, "/api/v1/inventory/ITM001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quantity":12`)

	rec = do(router, http.MethodGet, "/jobs/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odyssey_ledger_http_requests_total")

	rec = do(router, http.MethodGet, "/api/v1/bills", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "  clerk-7 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "clerk-7", seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, strings.Repeat("a", 300))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, seen, maxActorLength)
}
