/**
 * @description
 * This file defines the durable subscriber record kept by the supporter-service.
 * One record exists per supporter email; records are never deleted, only
 * flipped to inactive.
 */
package domain

import (
	"strings"
	"time"
)

// UnknownTier is recorded when a creating event carries no tier name.
const UnknownTier = "Default"

// Subscriber represents one supporter's subscription status and tier.
type Subscriber struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Tier         string     `json:"tier"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	SubscribedAt time.Time  `json:"subscribed_at"`
	LastPayment  *time.Time `json:"last_payment,omitempty"`
	Active       bool       `json:"active"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

// FindByEmail returns the index of the first subscriber with the given email, or -1.
// Lookup is a linear scan; the first match wins.
func FindByEmail(subscribers []Subscriber, email string) int {
	needle := strings.TrimSpace(email)
	for i := range subscribers {
		if subscribers[i].Email == needle {
			return i
		}
	}
	return -1
}

// CountActive returns the number of active subscribers.
func CountActive(subscribers []Subscriber) int {
	n := 0
	for _, s := range subscribers {
		if s.Active {
			n++
		}
	}
	return n
}
