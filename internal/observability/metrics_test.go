package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "sigedo_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
}

func TestObserveAuthzDecisionAndAuditWrite(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveAuthzDecision("ver", "allow")
	metrics.ObserveAuthzDecision("ver", "grant_not_found")
	metrics.ObserveAuditWrite("ok")
	metrics.ObserveAuditWrite("error")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"sigedo_authz_decisions_total{outcome=\"allow\",permission=\"ver\"} 1",
		"sigedo_authz_decisions_total{outcome=\"grant_not_found\",permission=\"ver\"} 1",
		"sigedo_audit_writes_total{status=\"ok\"} 1",
		"sigedo_audit_writes_total{status=\"error\"} 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveAuthzDecision("ver", "allow")
	metrics.ObserveAuditWrite("ok")
	if metrics.Middleware(http.NewServeMux()) == nil {
		t.Fatal("middleware should pass through on nil metrics")
	}
}
