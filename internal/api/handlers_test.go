package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/transfa/supporter-service/internal/app"
	"github.com/transfa/supporter-service/internal/domain"
	"github.com/transfa/supporter-service/internal/store"
)

const testToken = "kofi-secret"

var testNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

type observerStub struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *observerStub) ObserveWebhook(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *observerStub) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outcomes) == 0 {
		return ""
	}
	return o.outcomes[len(o.outcomes)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWebhook(repo store.Repository) (*WebhookHandler, *observerStub) {
	reconciler := app.NewReconciler(repo, app.PolicyLookup, discardLogger(),
		app.WithClock(func() time.Time { return testNow }))
	observer := &observerStub{}
	return NewWebhookHandler(reconciler, testToken, observer, discardLogger()), observer
}

func eventJSON(t *testing.T, overrides map[string]interface{}) string {
	t.Helper()
	doc := map[string]interface{}{
		"verification_token":      testToken,
		"message_id":              "msg-1",
		"timestamp":               "2024-06-01T12:00:00Z",
		"type":                    "Subscription",
		"from_name":               "Ada",
		"amount":                  "20.00",
		"email":                   "ada@example.com",
		"currency":                "USD",
		"is_subscription_payment": true,
		"kofi_transaction_id":     "tx-1",
		"tier_name":               "Plus",
	}
	for k, v := range overrides {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return string(raw)
}

func formRequest(doc string) *http.Request {
	body := url.Values{"data": {doc}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/kofi-webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookFormBodyCreatesSubscriber(t *testing.T) {
	repo := store.NewMemoryRepository()
	h, observer := newTestWebhook(repo)

	rec := serve(h, formRequest(eventJSON(t, nil)))

	if rec.Code != http.StatusOK || rec.Body.String() != AckReceived {
		t.Fatalf("expected 200 %q, got %d %q", AckReceived, rec.Code, rec.Body.String())
	}
	subs, _ := repo.Load(context.Background())
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", len(subs))
	}
	got := subs[0]
	if got.Email != "ada@example.com" || got.Tier != "Plus" || !got.Active || got.Amount != "20.00" {
		t.Fatalf("unexpected subscriber %+v", got)
	}
	if !got.SubscribedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected subscribed_at from event timestamp, got %v", got.SubscribedAt)
	}
	if observer.last() != outcomeProcessed {
		t.Fatalf("expected processed outcome, got %q", observer.last())
	}
}

func TestWebhookRawJSONBody(t *testing.T) {
	repo := store.NewMemoryRepository()
	h, _ := newTestWebhook(repo)

	req := httptest.NewRequest(http.MethodPost, "/kofi-webhook", strings.NewReader(eventJSON(t, map[string]interface{}{"amount": 20})))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := serve(h, req)

	if rec.Body.String() != AckReceived {
		t.Fatalf("expected %q, got %q", AckReceived, rec.Body.String())
	}
	subs, _ := repo.Load(context.Background())
	if len(subs) != 1 || subs[0].Amount != "20" {
		t.Fatalf("expected one subscriber with numeric amount passthrough, got %+v", subs)
	}
}

func TestWebhookRejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name        string
		req         func(t *testing.T) *http.Request
		wantBody    string
		wantOutcome string
	}{
		{
			name:        "wrong token",
			req:         func(t *testing.T) *http.Request { return formRequest(eventJSON(t, map[string]interface{}{"verification_token": "nope"})) },
			wantBody:    AckInvalidToken,
			wantOutcome: outcomeInvalidToken,
		},
		{
			name:        "missing token",
			req:         func(t *testing.T) *http.Request { return formRequest(eventJSON(t, map[string]interface{}{"verification_token": nil})) },
			wantBody:    AckInvalidToken,
			wantOutcome: outcomeInvalidToken,
		},
		{
			name:        "donation event",
			req:         func(t *testing.T) *http.Request { return formRequest(eventJSON(t, map[string]interface{}{"type": "Donation"})) },
			wantBody:    AckReceived,
			wantOutcome: outcomeIgnored,
		},
		{
			name:        "shop order",
			req:         func(t *testing.T) *http.Request { return formRequest(eventJSON(t, map[string]interface{}{"type": "Shop Order"})) },
			wantBody:    AckReceived,
			wantOutcome: outcomeIgnored,
		},
		{
			name:        "malformed json",
			req:         func(t *testing.T) *http.Request { return formRequest("{not json") },
			wantBody:    AckErrorLogged,
			wantOutcome: outcomeMalformed,
		},
		{
			name: "missing data field",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/kofi-webhook", strings.NewReader("other=1"))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantBody:    AckErrorLogged,
			wantOutcome: outcomeMalformed,
		},
		{
			name:        "subscription without email",
			req:         func(t *testing.T) *http.Request { return formRequest(eventJSON(t, map[string]interface{}{"email": nil})) },
			wantBody:    AckErrorLogged,
			wantOutcome: outcomeMalformed,
		},
		{
			name: "unsupported content type",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/kofi-webhook", strings.NewReader("<xml/>"))
				req.Header.Set("Content-Type", "application/xml")
				return req
			},
			wantBody:    AckErrorLogged,
			wantOutcome: outcomeMalformed,
		},
		{
			name: "oversized body",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/kofi-webhook", strings.NewReader(strings.Repeat("a", maxWebhookBodyBytes+1)))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantBody:    AckErrorLogged,
			wantOutcome: outcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := store.NewMemoryRepository(domain.Subscriber{Email: "ada@example.com", Tier: "Basic", Active: false})
			h, observer := newTestWebhook(repo)

			rec := serve(h, tt.req(t))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Fatalf("expected %q, got %q", tt.wantBody, rec.Body.String())
			}
			if observer.last() != tt.wantOutcome {
				t.Fatalf("expected outcome %q, got %q", tt.wantOutcome, observer.last())
			}
			if repo.Saves() != 0 {
				t.Fatalf("expected no store writes, got %d", repo.Saves())
			}
			subs, _ := repo.Load(context.Background())
			if len(subs) != 1 || subs[0].Active || subs[0].Tier != "Basic" {
				t.Fatalf("store was mutated: %+v", subs)
			}
		})
	}
}

func TestWebhookStoreFailureIsAcknowledged(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.FailSaves(errors.New("disk full"))
	h, observer := newTestWebhook(repo)

	rec := serve(h, formRequest(eventJSON(t, nil)))

	if rec.Code != http.StatusOK || rec.Body.String() != AckErrorLogged {
		t.Fatalf("expected 200 %q, got %d %q", AckErrorLogged, rec.Code, rec.Body.String())
	}
	if observer.last() != outcomeError {
		t.Fatalf("expected error outcome, got %q", observer.last())
	}
}

func TestWebhookReplayKeepsSingleRecord(t *testing.T) {
	repo := store.NewMemoryRepository()
	h, _ := newTestWebhook(repo)
	doc := eventJSON(t, nil)

	for i := 0; i < 3; i++ {
		if rec := serve(h, formRequest(doc)); rec.Body.String() != AckReceived {
			t.Fatalf("delivery %d: expected %q, got %q", i+1, AckReceived, rec.Body.String())
		}
	}

	subs, _ := repo.Load(context.Background())
	if len(subs) != 1 {
		t.Fatalf("expected replays to keep one record, got %d", len(subs))
	}
}

func TestWebhookUnparseableTimestampFallsBackToNow(t *testing.T) {
	repo := store.NewMemoryRepository()
	h, _ := newTestWebhook(repo)

	rec := serve(h, formRequest(eventJSON(t, map[string]interface{}{"timestamp": "last tuesday"})))

	if rec.Body.String() != AckReceived {
		t.Fatalf("expected %q, got %q", AckReceived, rec.Body.String())
	}
	subs, _ := repo.Load(context.Background())
	if len(subs) != 1 {
		t.Fatalf("expected event to be applied, got %d records", len(subs))
	}
	if !subs[0].SubscribedAt.Equal(testNow) {
		t.Fatalf("expected subscribed_at to fall back to %v, got %v", testNow, subs[0].SubscribedAt)
	}
}
