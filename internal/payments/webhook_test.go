package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func TestStripeWebhookParserPaymentIntentEvent(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret)
	require.NoError(t, err)

	header, body := signedPayload(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"object": "payment_intent",
			"status": "succeeded",
			"amount_received": 23000,
			"metadata": {"order_id": "ord_1"}
		}}
	}`)

	event, err := parser.ParseWebhookEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, WebhookEvent{
		ID:              "evt_1",
		Type:            "payment_intent.succeeded",
		IntentID:        "pi_1",
		ProcessorStatus: "succeeded",
		AmountReceived:  23000,
		OrderID:         "ord_1",
	}, event)
}

func TestStripeWebhookParserIgnoresOtherEvents(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret)
	require.NoError(t, err)

	header, body := signedPayload(t, `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	event, err := parser.ParseWebhookEvent(body, header)
	require.ErrorIs(t, err, ErrWebhookIgnored)
	assert.Equal(t, "charge.refunded", event.Type)
}

func TestStripeWebhookParserRejectsBadSignature(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret)
	require.NoError(t, err)

	_, err = parser.ParseWebhookEvent([]byte(`{"id":"evt_3"}`), "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrWebhookSignature)
}

func TestNewStripeWebhookParserRequiresSecret(t *testing.T) {
	_, err := NewStripeWebhookParser("  ")
	require.Error(t, err)
}
