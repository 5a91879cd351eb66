package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestDomainCollectors(t *testing.T) {
	m := New()
	m.ObserveWebhook("processed")
	m.ObserveWebhook("processed")
	m.ObserveReconcile("created", true)
	m.SetActiveSubscribers(7)

	body := scrape(t, m)
	for _, want := range []string{
		`kofi_webhooks_total{outcome="processed"} 2`,
		`subscriber_reconcile_total{action="created",persisted="true"} 1`,
		`active_subscribers 7`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/dashboard/{view}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil))

	body := scrape(t, m)
	want := `http_requests_total{method="GET",path="/dashboard/{view}",status="418"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in exposition", want)
	}
}

func TestMiddlewareCollapsesUnmatchedPaths(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/wp-admin/setup.php", "/.env", "/random/123"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	want := `http_requests_total{method="GET",path="unmatched",status="404"} 3`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in exposition", want)
	}
	for _, raw := range []string{"wp-admin", ".env", "/random/123"} {
		if strings.Contains(body, raw) {
			t.Fatalf("raw request path %q leaked into metric labels", raw)
		}
	}
}
