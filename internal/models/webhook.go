package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Webhook delivery parameter bounds.
const (
	WebhookMaxAttemptsMin     = 1
	WebhookMaxAttemptsMax     = 10
	WebhookMaxAttemptsDefault = 3

	WebhookTimeoutMsMin     = 1000
	WebhookTimeoutMsMax     = 60000
	WebhookTimeoutMsDefault = 10000
)

// Webhook is a user-configured HTTP subscriber for click, install, and
// conversion events.
type Webhook struct {
	ID     uuid.UUID  `json:"id"`
	UserID *uuid.UUID `json:"user_id,omitempty"`

	Name string `json:"name"`
	URL  string `json:"url"`

	// Secret is the hex-encoded HMAC key. Generated server-side, never
	// re-exposed after create or rotate.
	Secret string `json:"-"`

	Events   []string `json:"events"` // subset of click_event, install_event, conversion_event
	IsActive bool     `json:"is_active"`

	MaxAttempts int               `json:"max_attempts"`
	TimeoutMs   int               `json:"timeout_ms"`
	Headers     map[string]string `json:"headers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscribedTo reports whether the webhook subscribes to the given event type.
func (w *Webhook) SubscribedTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Validate checks webhook invariants before persistence.
func (w *Webhook) Validate() error {
	if w.Name == "" {
		return errors.New("webhook name is required")
	}
	if w.URL == "" {
		return errors.New("webhook URL is required")
	}
	if len(w.Events) == 0 {
		return errors.New("webhook must subscribe to at least one event")
	}
	for _, e := range w.Events {
		switch e {
		case EventClick, EventInstall, EventConversion:
		default:
			return errors.New("unknown webhook event type: " + e)
		}
	}
	if w.MaxAttempts < WebhookMaxAttemptsMin || w.MaxAttempts > WebhookMaxAttemptsMax {
		return errors.New("max_attempts must be between 1 and 10")
	}
	if w.TimeoutMs < WebhookTimeoutMsMin || w.TimeoutMs > WebhookTimeoutMsMax {
		return errors.New("timeout_ms must be between 1000 and 60000")
	}
	return nil
}

// WebhookDelivery is the logged outcome of one delivery attempt.
type WebhookDelivery struct {
	ID        uuid.UUID `json:"id"`
	WebhookID uuid.UUID `json:"webhook_id"`
	EventType string    `json:"event_type"`
	EventID   uuid.UUID `json:"event_id"`

	Attempt        int     `json:"attempt"`
	Success        bool    `json:"success"`
	ResponseStatus *int    `json:"response_status,omitempty"`
	ResponseBody   *string `json:"response_body,omitempty"` // first 1000 bytes
	Error          *string `json:"error,omitempty"`

	DeliveredAt time.Time `json:"delivered_at"`
}
