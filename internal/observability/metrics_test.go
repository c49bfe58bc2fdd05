package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	body := scrape(t, metrics)
	require.Contains(t, body, "odyssey_ledger_http_in_flight_requests")
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_ledger_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, `odyssey_ledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainMetrics(t *testing.T) {
	metrics := NewMetrics()
	domain := NewDomain(metrics.Registerer())
	domain.MovementRecorded("OUTBOUND")
	domain.MovementRecorded("OUTBOUND")
	domain.Oversold("clamp")
	domain.DocumentCreated("bill")
	domain.CreateRetried("bill", "number_conflict")
	domain.StatusChanged("bill", "PAID")

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_ledger_stock_movements_total{kind="OUTBOUND"} 2`,
		`odyssey_ledger_oversell_total{policy="clamp"} 1`,
		`odyssey_ledger_documents_created_total{kind="bill"} 1`,
		`odyssey_ledger_document_create_retries_total{kind="bill",reason="number_conflict"} 1`,
		`odyssey_ledger_document_status_changes_total{kind="bill",status="PAID"} 1`,
	} {
		require.True(t, strings.Contains(body, want), want)
	}

	var nilDomain *Domain
	nilDomain.MovementRecorded("INBOUND")
}

func TestMetricsMiddlewareSkipsProbes(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	body := scrape(t, metrics)
	require.NotContains(t, body, `odyssey_ledger_http_requests_total{`)
}
