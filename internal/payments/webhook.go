package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrWebhookSignature is returned when a delivery fails signature verification.
	ErrWebhookSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookIgnored marks well-formed events the lifecycle does not act on.
	ErrWebhookIgnored = errors.New("payments: webhook event ignored")
)

// WebhookEvent is the subset of a payment_intent.* event the lifecycle consumes.
type WebhookEvent struct {
	ID              string
	Type            string
	IntentID        string
	ProcessorStatus string
	AmountReceived  int64
	OrderID         string
}

// StripeWebhookParser verifies deliveries signed with the endpoint secret.
type StripeWebhookParser struct {
	secret string
}

var _ WebhookParser = (*StripeWebhookParser)(nil)

// NewStripeWebhookParser constructs a parser for secret.
func NewStripeWebhookParser(secret string) (*StripeWebhookParser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookParser{secret: secret}, nil
}

// ParseWebhookEvent verifies signature and decodes a payment intent event.
// Events of other types return ErrWebhookIgnored.
func (p *StripeWebhookParser) ParseWebhookEvent(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") || event.Data == nil {
		return WebhookEvent{ID: event.ID, Type: eventType}, ErrWebhookIgnored
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode payment intent event %s: %w", event.ID, err)
	}
	if intent.ID == "" {
		return WebhookEvent{}, fmt.Errorf("payments: payment intent event %s missing intent id", event.ID)
	}

	return WebhookEvent{
		ID:              event.ID,
		Type:            eventType,
		IntentID:        intent.ID,
		ProcessorStatus: string(intent.Status),
		AmountReceived:  intent.AmountReceived,
		OrderID:         intent.Metadata["order_id"],
	}, nil
}
