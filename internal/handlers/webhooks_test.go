package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/services"
)

type stubWebhookParser struct {
	event     payments.WebhookEvent
	err       error
	signature string
	payload   string
}

func (s *stubWebhookParser) ParseWebhookEvent(payload []byte, signature string) (payments.WebhookEvent, error) {
	s.payload = string(payload)
	s.signature = signature
	return s.event, s.err
}

func webhookRouter(h *WebhookHandlers) http.Handler {
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func TestWebhookHandlers_AppliesPaymentEvent(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{
		ID:              "evt_1",
		Type:            "payment_intent.succeeded",
		IntentID:        "pi_1",
		ProcessorStatus: "succeeded",
		AmountReceived:  23000,
		OrderID:         "ord_1",
	}}
	var captured services.PaymentEventCommand
	svc := &stubOrderService{
		eventFn: func(_ context.Context, cmd services.PaymentEventCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{Order: services.Order{ID: "ord_1"}, Changed: true}, nil
		},
	}
	router := webhookRouter(NewWebhookHandlers(parser, svc))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if parser.signature != "t=1,v1=abc" || parser.payload != `{"id":"evt_1"}` {
		t.Fatalf("parser received %q / %q", parser.signature, parser.payload)
	}
	if captured.IntentID != "pi_1" || captured.AmountReceived != domain.Money(23000) || captured.EventID != "evt_1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	ack := decodeBody[webhookAck](t, rr)
	if !ack.Received || !ack.Changed || ack.OrderID != "ord_1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestWebhookHandlers_AcknowledgesReplacedIntent(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{
		ID:              "evt_2",
		Type:            "payment_intent.canceled",
		IntentID:        "pi_old",
		ProcessorStatus: "canceled",
		OrderID:         "ord_1",
	}}
	svc := &stubOrderService{
		eventFn: func(context.Context, services.PaymentEventCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{Order: services.Order{ID: "ord_1", PaymentIntentID: "pi_new"}, Superseded: true}, nil
		},
	}
	router := webhookRouter(NewWebhookHandlers(parser, svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	ack := decodeBody[webhookAck](t, rr)
	if !ack.Received || !ack.Ignored || ack.Changed || ack.OrderID != "ord_1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestWebhookHandlers_Outcomes(t *testing.T) {
	cases := []struct {
		name      string
		parserErr error
		applyErr  error
		status    int
		ignored   bool
	}{
		{name: "bad signature", parserErr: fmt.Errorf("%w: mismatch", payments.ErrWebhookSignature), status: http.StatusBadRequest},
		{name: "ignored type", parserErr: payments.ErrWebhookIgnored, status: http.StatusOK, ignored: true},
		{name: "malformed", parserErr: errors.New("decode"), status: http.StatusBadRequest},
		{name: "unknown order", applyErr: services.ErrOrderNotFound, status: http.StatusOK, ignored: true},
		{name: "conflict retried", applyErr: services.ErrOrderConflict, status: http.StatusConflict},
		{name: "storage retried", applyErr: services.ErrOrderStorage, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_1", IntentID: "pi_1"}, err: tc.parserErr}
			svc := &stubOrderService{
				eventFn: func(context.Context, services.PaymentEventCommand) (services.ReconcileResult, error) {
					if tc.parserErr != nil {
						t.Fatalf("service must not be called when parsing fails")
					}
					return services.ReconcileResult{}, tc.applyErr
				},
			}
			router := webhookRouter(NewWebhookHandlers(parser, svc))

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if tc.ignored {
				ack := decodeBody[webhookAck](t, rr)
				if !ack.Ignored {
					t.Fatalf("expected ignored ack, got %+v", ack)
				}
			}
		})
	}
}

func TestWebhookHandlers_RejectsOversizedBody(t *testing.T) {
	router := webhookRouter(NewWebhookHandlers(&stubWebhookParser{}, &stubOrderService{}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(strings.Repeat("a", maxWebhookBodySize+1)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}
