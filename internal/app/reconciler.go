/**
 * @description
 * This file contains the core business logic of the supporter-service: folding
 * one incoming Ko-fi subscription event into the stored subscriber list.
 *
 * Key features:
 * - Two selectable policies. "lookup" decides by presence in the store; "flags"
 *   decides by the payment flags Ko-fi sets on the event and supports
 *   deactivation on payment failure.
 * - The load-mutate-save cycle runs under a mutex, so concurrent deliveries
 *   cannot overwrite each other's changes.
 * - Lifecycle events are published after a successful save when a publisher is set.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/supporter-service/internal/domain"
	"github.com/transfa/supporter-service/internal/store"
)

const publishTimeout = 5 * time.Second

// Policy selects how events are mapped onto subscriber records.
type Policy string

const (
	PolicyLookup Policy = "lookup"
	PolicyFlags  Policy = "flags"
)

// Action is the outcome of reconciling one event.
type Action string

const (
	ActionCreated     Action = "created"
	ActionRenewed     Action = "renewed"
	ActionDeactivated Action = "deactivated"
	ActionIgnored     Action = "ignored"
)

// EventPublisher delivers lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Recorder receives reconciliation metrics.
type Recorder interface {
	ObserveReconcile(action string, persisted bool)
	SetActiveSubscribers(n int)
}

// Result describes what a reconciliation did.
type Result struct {
	Action     Action
	Subscriber domain.Subscriber
	Persisted  bool
}

// SubscriberEvent is the payload published after a subscriber changes.
type SubscriberEvent struct {
	EventType  string            `json:"event_type"`
	Subscriber domain.Subscriber `json:"subscriber"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Reconciler applies webhook events to the subscriber store.
type Reconciler struct {
	repo      store.Repository
	policy    Policy
	logger    *slog.Logger
	publisher EventPublisher
	exchange  string
	recorder  Recorder
	now       func() time.Time
	newID     func() string

	mu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPublisher publishes lifecycle events to the given topic exchange.
func WithPublisher(p EventPublisher, exchange string) Option {
	return func(r *Reconciler) {
		r.publisher = p
		r.exchange = exchange
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithClock overrides the time source used when an event has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides the generator used when an event has no transaction id.
func WithIDGenerator(gen func() string) Option {
	return func(r *Reconciler) { r.newID = gen }
}

// NewReconciler creates a reconciler. An unknown policy falls back to PolicyLookup.
func NewReconciler(repo store.Repository, policy Policy, logger *slog.Logger, opts ...Option) *Reconciler {
	if policy != PolicyFlags {
		policy = PolicyLookup
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		repo:   repo,
		policy: policy,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the active policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Reconcile folds event into the store. Events outside the subscription category
// are ignored without touching the store. The store is written only when a
// record was created or changed. Lifecycle events are published after the
// store lock is released.
func (r *Reconciler) Reconcile(ctx context.Context, event domain.Event) (Result, error) {
	if !event.IsSubscription() {
		r.logger.Info("ignoring non-subscription event", "type", event.Type)
		r.observe(ActionIgnored, false)
		return Result{Action: ActionIgnored}, nil
	}

	result, at, err := r.apply(ctx, event)
	if err != nil || !result.Persisted {
		return result, err
	}

	r.publish(ctx, result, at)
	return result, nil
}

// apply runs one load-mutate-save cycle under the store lock.
func (r *Reconciler) apply(ctx context.Context, event domain.Event) (Result, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := event.OccurredAt(r.now())
	subscribers, err := r.repo.Load(ctx)
	if err != nil {
		r.observe(ActionIgnored, false)
		return Result{Action: ActionIgnored}, at, fmt.Errorf("load subscribers: %w", err)
	}

	var (
		updated []domain.Subscriber
		result  Result
	)
	switch r.policy {
	case PolicyFlags:
		updated, result = r.applyFlags(subscribers, event, at)
	default:
		updated, result = r.applyLookup(subscribers, event, at)
	}

	if result.Action == ActionIgnored {
		r.observe(ActionIgnored, false)
		return result, at, nil
	}

	if err := r.repo.Save(ctx, updated); err != nil {
		r.observe(result.Action, false)
		return result, at, fmt.Errorf("save subscribers: %w", err)
	}
	result.Persisted = true
	r.observe(result.Action, true)
	if r.recorder != nil {
		r.recorder.SetActiveSubscribers(domain.CountActive(updated))
	}
	return result, at, nil
}

// applyLookup implements the presence-driven policy: renew when the email is
// known, create otherwise.
func (r *Reconciler) applyLookup(subscribers []domain.Subscriber, event domain.Event, at time.Time) ([]domain.Subscriber, Result) {
	if idx := domain.FindByEmail(subscribers, event.Email); idx >= 0 {
		renew(&subscribers[idx], event, at)
		r.logger.Info("subscription renewed", "email", subscribers[idx].Email, "name", subscribers[idx].Name, "tier", subscribers[idx].Tier)
		return subscribers, Result{Action: ActionRenewed, Subscriber: subscribers[idx]}
	}

	sub := r.newSubscriber(event, at)
	r.logger.Info("new subscriber", "email", sub.Email, "name", sub.Name, "tier", sub.Tier)
	return append(subscribers, sub), Result{Action: ActionCreated, Subscriber: sub}
}

// applyFlags implements the flag-driven policy.
func (r *Reconciler) applyFlags(subscribers []domain.Subscriber, event domain.Event, at time.Time) ([]domain.Subscriber, Result) {
	idx := domain.FindByEmail(subscribers, event.Email)

	switch {
	case event.IsSubscriptionPaymentFailed:
		if idx < 0 {
			r.logger.Warn("payment failed for unknown subscriber", "email", event.Email)
			return subscribers, Result{Action: ActionIgnored}
		}
		failedAt := at
		subscribers[idx].Active = false
		subscribers[idx].FailedAt = &failedAt
		r.logger.Info("subscription deactivated after failed payment", "email", subscribers[idx].Email, "name", subscribers[idx].Name)
		return subscribers, Result{Action: ActionDeactivated, Subscriber: subscribers[idx]}

	case event.IsFirstSubscriptionPayment:
		if idx >= 0 {
			renew(&subscribers[idx], event, at)
			r.logger.Info("returning subscriber", "email", subscribers[idx].Email, "name", subscribers[idx].Name, "tier", subscribers[idx].Tier)
			return subscribers, Result{Action: ActionRenewed, Subscriber: subscribers[idx]}
		}
		sub := r.newSubscriber(event, at)
		r.logger.Info("new subscriber", "email", sub.Email, "name", sub.Name, "tier", sub.Tier)
		return append(subscribers, sub), Result{Action: ActionCreated, Subscriber: sub}

	case event.IsSubscriptionPayment:
		if idx >= 0 {
			renew(&subscribers[idx], event, at)
			r.logger.Info("subscription renewed", "email", subscribers[idx].Email, "name", subscribers[idx].Name, "tier", subscribers[idx].Tier)
			return subscribers, Result{Action: ActionRenewed, Subscriber: subscribers[idx]}
		}
		// The store lost this subscriber (e.g. it was reset); re-add it.
		sub := r.newSubscriber(event, at)
		r.logger.Info("added existing subscriber", "email", sub.Email, "name", sub.Name, "tier", sub.Tier)
		return append(subscribers, sub), Result{Action: ActionCreated, Subscriber: sub}
	}

	r.logger.Info("subscription event carries no payment flag", "email", event.Email)
	return subscribers, Result{Action: ActionIgnored}
}

func (r *Reconciler) newSubscriber(event domain.Event, at time.Time) domain.Subscriber {
	id := strings.TrimSpace(event.KofiTransactionID)
	if id == "" {
		id = r.newID()
	}
	lastPayment := at
	return domain.Subscriber{
		ID:           id,
		Email:        strings.TrimSpace(event.Email),
		Name:         strings.TrimSpace(event.FromName),
		Tier:         event.TierOrDefault(),
		Amount:       string(event.Amount),
		Currency:     strings.TrimSpace(event.Currency),
		SubscribedAt: at,
		LastPayment:  &lastPayment,
		Active:       true,
	}
}

// renew marks sub active and takes every non-empty field from the event.
// SubscribedAt and ID are never touched.
func renew(sub *domain.Subscriber, event domain.Event, at time.Time) {
	lastPayment := at
	sub.Active = true
	sub.LastPayment = &lastPayment
	if tier := strings.TrimSpace(event.TierName); tier != "" {
		sub.Tier = tier
	}
	if amount := string(event.Amount); amount != "" {
		sub.Amount = amount
	}
	if currency := strings.TrimSpace(event.Currency); currency != "" {
		sub.Currency = currency
	}
	if name := strings.TrimSpace(event.FromName); name != "" {
		sub.Name = name
	}
}

func (r *Reconciler) observe(action Action, persisted bool) {
	if r.recorder != nil {
		r.recorder.ObserveReconcile(string(action), persisted)
	}
}

func (r *Reconciler) publish(ctx context.Context, result Result, at time.Time) {
	if r.publisher == nil {
		return
	}
	routingKey := "subscriber." + string(result.Action)
	event := SubscriberEvent{
		EventType:  routingKey,
		Subscriber: result.Subscriber,
		OccurredAt: at,
	}
	// The store change is already committed; a cancelled request must not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, r.exchange, routingKey, event); err != nil {
		r.logger.Error("failed to publish subscriber event", "routing_key", routingKey, "email", result.Subscriber.Email, "error", err)
	}
}
