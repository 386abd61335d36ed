package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/nanacafe/api/internal/domain"
)

const (
	instrumentationName = "github.com/nanacafe/api/internal/payments"
	defaultCallTimeout  = 10 * time.Second
	// GuestEmail is attached to intents created for orders without an email.
	GuestEmail = "guest@nanacafe.com"
)

// StripeLogger receives structured gateway events.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// StripeGatewayConfig configures StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Timeout  time.Duration
	Backends *stripe.Backends
	Logger   StripeLogger
	Clients  *stripeClients
}

// StripeGateway implements Gateway on the Stripe Payment Intents API.
type StripeGateway struct {
	api     stripeClients
	timeout time.Duration
	logger  StripeLogger
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a gateway from cfg.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents, refunds: sc.Refunds}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"payments.stripe.latency",
		metric.WithDescription("Latency of Stripe API calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("stripe: create latency histogram: %w", err)
	}

	return &StripeGateway{
		api:     clients,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		latency: latency,
	}, nil
}

// CreatePaymentIntent creates an intent for the order total. Without an explicit
// idempotency key one is derived from the order id so retried calls never
// create a second intent.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Intent{}, &GatewayError{Op: "create_intent", Err: errors.New("order id is required")}
	}
	if req.Amount <= 0 {
		return Intent{}, &GatewayError{Op: "create_intent", Err: fmt.Errorf("amount must be positive, got %d", req.Amount)}
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToLower(domain.DefaultCurrency)
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		email = GuestEmail
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = IntentIdempotencyKey(req.OrderID)
	}

	var intent *stripe.PaymentIntent
	err := g.call(ctx, "create_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:      stripe.Int64(int64(req.Amount)),
			Currency:    stripe.String(currency),
			Description: stripe.String("Nana Cafe Order #" + req.OrderNumber),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(key)
		params.AddMetadata("order_id", req.OrderID)
		params.AddMetadata("order_number", req.OrderNumber)
		params.AddMetadata("customer_email", email)

		var err error
		intent, err = g.api.intents.New(params)
		return err
	})
	if err != nil {
		return Intent{}, err
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       domain.Money(intent.Amount),
		Status:       string(intent.Status),
	}, nil
}

// ConfirmPayment retrieves the current state of intentID.
func (g *StripeGateway) ConfirmPayment(ctx context.Context, intentID string) (Confirmation, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Confirmation{}, &GatewayError{Op: "retrieve_intent", Err: errors.New("intent id is required")}
	}

	var intent *stripe.PaymentIntent
	err := g.call(ctx, "retrieve_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		var err error
		intent, err = g.api.intents.Get(intentID, params)
		return err
	})
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		IntentID:       intent.ID,
		ClientSecret:   intent.ClientSecret,
		Status:         string(intent.Status),
		Amount:         domain.Money(intent.Amount),
		AmountReceived: domain.Money(intent.AmountReceived),
		Metadata:       intent.Metadata,
	}, nil
}

// RefundPayment refunds req.Amount, or the full captured amount when nil.
func (g *StripeGateway) RefundPayment(ctx context.Context, req RefundRequest) (Refund, error) {
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return Refund{}, &GatewayError{Op: "refund", Err: errors.New("intent id is required")}
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return Refund{}, &GatewayError{Op: "refund", Err: fmt.Errorf("refund amount must be positive, got %d", *req.Amount)}
	}

	var refund *stripe.Refund
	err := g.call(ctx, "refund", func(ctx context.Context) error {
		params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
		params.Context = ctx
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			params.SetIdempotencyKey(key)
		}
		if req.Amount != nil {
			params.Amount = stripe.Int64(int64(*req.Amount))
		}
		if reason := mapRefundReason(req.Reason); reason != "" {
			params.Reason = stripe.String(reason)
		}
		if req.OrderID != "" {
			params.AddMetadata("order_id", req.OrderID)
		}
		var err error
		refund, err = g.api.refunds.New(params)
		return err
	})
	if err != nil {
		return Refund{}, err
	}

	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intentID,
		"refundId":      refund.ID,
		"amount":        refund.Amount,
	})
	return Refund{ID: refund.ID, Status: string(refund.Status), Amount: domain.Money(refund.Amount)}, nil
}

// IntentIdempotencyKey is the processor idempotency key used for an order's intent.
func IntentIdempotencyKey(orderID string) string {
	return "order-" + orderID + "-intent"
}

func (g *StripeGateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "stripe."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	outcome := "ok"
	if err != nil {
		err = classifyError(callCtx, op, err)
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	g.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome)))
	return err
}

func classifyError(ctx context.Context, op string, err error) error {
	gwErr := &GatewayError{Op: op, Err: err}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		gwErr.Timeout = true
		gwErr.Retryable = true
		return gwErr
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Transport failures never reached the API.
		gwErr.Retryable = true
		return gwErr
	}
	gwErr.Code = string(stripeErr.Code)
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		gwErr.Retryable = true
	}
	return gwErr
}

func mapRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
