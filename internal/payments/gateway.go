// Package payments adapts the payment processor (Stripe) to the order lifecycle.
package payments

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/nanacafe/api/internal/domain"
)

// ErrGateway is matched by every error returned from a Gateway.
var ErrGateway = errors.New("payments: gateway error")

// GatewayError wraps a processor failure. Retryable failures (timeouts,
// connection problems, 5xx and rate limits) may succeed on a later attempt;
// the rest are definitive rejections.
type GatewayError struct {
	Op        string
	Retryable bool
	Timeout   bool
	Code      string
	Err       error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("payments: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is makes every GatewayError match ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// IsRetryable reports whether err is a retryable gateway failure.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Retryable
}

// IntentRequest describes the payment intent to create for an order.
type IntentRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerEmail  string
	Amount         domain.Money
	Currency       string
	IdempotencyKey string
}

// Intent is the processor's payment intent as seen by the client.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       domain.Money
	Status       string
}

// Confirmation is a read-only snapshot of an intent's processor state.
type Confirmation struct {
	IntentID       string
	ClientSecret   string
	Status         string
	Amount         domain.Money
	AmountReceived domain.Money
	Metadata       map[string]string
}

// RefundRequest refunds an intent. A nil Amount refunds the full captured amount.
type RefundRequest struct {
	IntentID       string
	OrderID        string
	Amount         *domain.Money
	Reason         string
	IdempotencyKey string
}

// Refund is the processor's refund record.
type Refund struct {
	ID     string
	Status string
	Amount domain.Money
}

// Gateway is the narrow processor surface the order lifecycle depends on.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	ConfirmPayment(ctx context.Context, intentID string) (Confirmation, error)
	RefundPayment(ctx context.Context, req RefundRequest) (Refund, error)
}

// WebhookParser verifies and decodes processor webhook deliveries.
type WebhookParser interface {
	ParseWebhookEvent(payload []byte, signature string) (WebhookEvent, error)
}
