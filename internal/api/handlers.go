/**
 * @description
 * This file contains the HTTP handler for Ko-fi webhook deliveries. It is the
 * only entry point that mutates subscriber state.
 *
 * Key features:
 * - Decoding: accepts the form-encoded `data` field Ko-fi posts, or a raw JSON body.
 * - Security: compares the shared verification token in constant time.
 * - Filtering: only subscription events reach the reconciler.
 * - Acknowledgement: every outcome is answered with 200 so that Ko-fi never
 *   redelivers an event that was already applied.
 */
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/supporter-service/internal/app"
	"github.com/transfa/supporter-service/internal/domain"
)

// Acknowledgement bodies.
const (
	AckReceived     = "Webhook received"
	AckInvalidToken = "Invalid verification token"
	AckErrorLogged  = "Error logged"
)

// Webhook outcomes recorded in metrics.
const (
	outcomeProcessed    = "processed"
	outcomeIgnored      = "ignored"
	outcomeInvalidToken = "invalid_token"
	outcomeMalformed    = "malformed"
	outcomeError        = "error"
)

const maxWebhookBodyBytes = 1 << 20

// EventReconciler applies a verified subscription event.
type EventReconciler interface {
	Reconcile(ctx context.Context, event domain.Event) (app.Result, error)
}

// WebhookObserver counts webhook outcomes.
type WebhookObserver interface {
	ObserveWebhook(outcome string)
}

// WebhookHandler processes incoming webhooks from Ko-fi.
type WebhookHandler struct {
	reconciler EventReconciler
	token      string
	observer   WebhookObserver
	logger     *slog.Logger
}

// NewWebhookHandler creates a new handler for the webhook endpoint. observer may be nil.
func NewWebhookHandler(reconciler EventReconciler, token string, observer WebhookObserver, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		reconciler: reconciler,
		token:      token,
		observer:   observer,
		logger:     logger,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	// 1. Extract the event document.
	raw, err := readEventDocument(w, r)
	if err != nil {
		log.Error("failed to read webhook payload", "error", err)
		h.ack(w, outcomeMalformed, AckErrorLogged)
		return
	}

	// 2. Decode it.
	event, err := domain.ParseEvent(raw)
	if err != nil {
		log.Error("failed to decode webhook payload", "error", err)
		h.ack(w, outcomeMalformed, AckErrorLogged)
		return
	}

	// 3. Verify the shared token before looking at anything else.
	if !h.validToken(event.VerificationToken) {
		log.Warn("invalid verification token", "type", event.Type)
		h.ack(w, outcomeInvalidToken, AckInvalidToken)
		return
	}

	// 4. Only subscription events change state.
	if !event.IsSubscription() {
		log.Info("ignoring non-subscription event", "type", event.Type, "message_id", event.MessageID)
		h.ack(w, outcomeIgnored, AckReceived)
		return
	}

	if err := event.Validate(); err != nil {
		log.Error("webhook event failed validation", "error", err, "message_id", event.MessageID)
		h.ack(w, outcomeMalformed, AckErrorLogged)
		return
	}

	// 5. Reconcile.
	result, err := h.reconciler.Reconcile(r.Context(), event)
	if err != nil {
		log.Error("failed to reconcile subscription event", "error", err, "email", event.Email, "action", result.Action)
		h.ack(w, outcomeError, AckErrorLogged)
		return
	}

	log.Info("subscription event reconciled",
		"action", result.Action,
		"email", event.Email,
		"tier", result.Subscriber.Tier,
		"transaction_id", event.KofiTransactionID,
	)
	if result.Action == app.ActionIgnored {
		h.ack(w, outcomeIgnored, AckReceived)
		return
	}
	h.ack(w, outcomeProcessed, AckReceived)
}

func (h *WebhookHandler) validToken(got string) bool {
	if h.token == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *WebhookHandler) ack(w http.ResponseWriter, outcome, body string) {
	if h.observer != nil {
		h.observer.ObserveWebhook(outcome)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// readEventDocument returns the JSON event document from either body shape.
func readEventDocument(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return body, nil
	case "application/x-www-form-urlencoded", "":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		data := values.Get("data")
		if strings.TrimSpace(data) == "" {
			return nil, domain.ErrMissingPayload
		}
		return []byte(data), nil
	default:
		return nil, errors.New("unsupported content type " + mediaType)
	}
}
