/**
 * @description
 * This file models the webhook payload sent by Ko-fi. The platform posts a
 * form-encoded body whose `data` field holds the JSON document decoded here;
 * newer integrations post the JSON document directly.
 *
 * @notes
 * - Only the fields the reconciler reads are modelled. Unknown fields are ignored.
 * - Validation is explicit (see Validate) so that missing or malformed fields are
 *   rejected at the boundary instead of being defaulted ad hoc.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// SubscriptionEventType is the only event category that reaches the reconciler.
const SubscriptionEventType = "Subscription"

var (
	// ErrMissingPayload is returned when a request carries no event document.
	ErrMissingPayload = errors.New("missing webhook payload")
	// ErrInvalidEvent wraps every schema validation failure.
	ErrInvalidEvent = errors.New("invalid webhook event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Amount is a monetary amount passed through verbatim. Ko-fi sends it as a
// decimal string, but numeric JSON values are accepted as well.
type Amount string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Event represents a decoded Ko-fi webhook document.
type Event struct {
	VerificationToken           string `json:"verification_token" validate:"required"`
	MessageID                   string `json:"message_id"`
	Timestamp                   string `json:"timestamp"`
	Type                        string `json:"type" validate:"required"`
	IsPublic                    bool   `json:"is_public"`
	FromName                    string `json:"from_name"`
	Message                     string `json:"message"`
	Amount                      Amount `json:"amount"`
	URL                         string `json:"url"`
	Email                       string `json:"email"`
	Currency                    string `json:"currency"`
	IsSubscriptionPayment       bool   `json:"is_subscription_payment"`
	IsFirstSubscriptionPayment  bool   `json:"is_first_subscription_payment"`
	IsSubscriptionPaymentFailed bool   `json:"is_subscription_payment_failed"`
	KofiTransactionID           string `json:"kofi_transaction_id"`
	TierName                    string `json:"tier_name"`
}

// ParseEvent decodes a JSON event document.
func ParseEvent(raw []byte) (Event, error) {
	var event Event
	if len(bytes.TrimSpace(raw)) == 0 {
		return event, ErrMissingPayload
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return event, nil
}

// IsSubscription reports whether the event belongs to the subscription category.
func (e Event) IsSubscription() bool {
	return e.Type == SubscriptionEventType
}

// Validate checks that required fields are present. Subscription events must
// also carry an email, since it is the lookup key for the store. Formats are not
// checked: a timestamp that does not parse falls back to the receive time.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.IsSubscription() {
		if err := validate.Var(strings.TrimSpace(e.Email), "required"); err != nil {
			return fmt.Errorf("%w: email: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}

// OccurredAt returns the event timestamp, or now when the event omits it.
func (e Event) OccurredAt(now time.Time) time.Time {
	if ts := strings.TrimSpace(e.Timestamp); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}

// TierOrDefault returns the tier name, falling back to UnknownTier.
func (e Event) TierOrDefault() string {
	if tier := strings.TrimSpace(e.TierName); tier != "" {
		return tier
	}
	return UnknownTier
}
