package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:      domain.ProviderStripe,
		SecretKey:     "sk_test_123",
		WebhookSecret: testSecret,
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedHeaders(payload []byte, ts int64, secret string) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestFactoryRequiresCredentials(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{WebhookSecret: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewFactory().NewAdapter(domain.AdapterConfig{SecretKey: "sk"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestValidateWebhookSignature(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	ts := time.Now().Unix()

	assert.True(t, adapter.ValidateWebhookSignature(payload, signedHeaders(payload, ts, testSecret)))
	assert.False(t, adapter.ValidateWebhookSignature(payload, signedHeaders(payload, ts, "whsec_other")))

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.payment_failed"}`)
	assert.False(t, adapter.ValidateWebhookSignature(tampered, signedHeaders(payload, ts, testSecret)))

	headers := http.Header{}
	assert.False(t, adapter.ValidateWebhookSignature(payload, headers))
	headers.Set("Stripe-Signature", "garbage")
	assert.False(t, adapter.ValidateWebhookSignature(payload, headers))
}

func TestWebhookTimestamp(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{}`)

	at, ok := adapter.WebhookTimestamp(signedHeaders(payload, 1700000000, testSecret))
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), at)

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=abc,v1=00")
	_, ok = adapter.WebhookTimestamp(headers)
	assert.False(t, ok)
}

func TestNormalizeWebhookEvent(t *testing.T) {
	adapter := newTestAdapter(t, "")
	ctx := context.Background()

	cases := []struct {
		name    string
		payload string
		check   func(t *testing.T, event *domain.WebhookEvent)
	}{
		{
			name:    "checkout completed",
			payload: `{"id":"evt_c","type":"checkout.session.completed","created":1700000000,"data":{"object":{"id":"cs_1","payment_intent":"pi_1","customer":"cus_1","amount_total":2500,"currency":"usd","metadata":{"paygate_reference":"123"}}}}`,
			check: func(t *testing.T, event *domain.WebhookEvent) {
				assert.Equal(t, domain.EventTypeCheckoutCompleted, event.Type)
				assert.Equal(t, "stripe:evt_c", event.ID)
				assert.Equal(t, "123", event.Payment.Reference)
				assert.Equal(t, "cs_1", event.Payment.ProviderSessionID)
				assert.Equal(t, "pi_1", event.Payment.ProviderIntentID)
				assert.Equal(t, int64(2500), event.Payment.Amount)
				assert.Equal(t, "USD", event.Payment.Currency)
			},
		},
		{
			name:    "payment failed",
			payload: `{"id":"evt_f","type":"payment_intent.payment_failed","created":1700000000,"data":{"object":{"id":"pi_2","amount":900,"currency":"eur","last_payment_error":{"code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}}}`,
			check: func(t *testing.T, event *domain.WebhookEvent) {
				assert.Equal(t, domain.EventTypePaymentFailed, event.Type)
				assert.Equal(t, domain.DeclineInsufficientFunds, event.Payment.FailureReason)
				assert.Equal(t, int64(900), event.Payment.Amount)
			},
		},
		{
			name:    "charge refunded",
			payload: `{"id":"evt_r","type":"charge.refunded","created":1700000000,"data":{"object":{"id":"ch_1","payment_intent":"pi_3","amount":1000,"amount_refunded":400,"currency":"usd"}}}`,
			check: func(t *testing.T, event *domain.WebhookEvent) {
				assert.Equal(t, domain.EventTypePaymentRefunded, event.Type)
				assert.Equal(t, "pi_3", event.Payment.ProviderIntentID)
				assert.Equal(t, int64(400), event.Payment.RefundedAmount)
			},
		},
		{
			name:    "subscription deleted",
			payload: `{"id":"evt_s","type":"customer.subscription.deleted","created":1700000000,"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active","current_period_start":1700000000,"current_period_end":1702592000,"items":{"data":[{"price":{"id":"price_pro"}}]}}}}`,
			check: func(t *testing.T, event *domain.WebhookEvent) {
				assert.Equal(t, domain.EventTypeSubscriptionCanceled, event.Type)
				assert.Equal(t, domain.SubscriptionStatusCanceled, event.Subscription.Status)
				assert.Equal(t, "price_pro", event.Subscription.PlanID)
				assert.Equal(t, time.Unix(1702592000, 0).UTC(), event.Subscription.CurrentPeriodEnd)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := adapter.NormalizeWebhookEvent(ctx, []byte(tc.payload), nil)
			require.NoError(t, err)
			tc.check(t, event)
		})
	}

	_, err := adapter.NormalizeWebhookEvent(ctx, []byte(`{"id":"evt_x","type":"invoice.created"}`), nil)
	require.ErrorIs(t, err, domain.ErrEventIgnored)

	_, err = adapter.NormalizeWebhookEvent(ctx, []byte(`not json`), nil)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.NormalizeWebhookEvent(ctx, []byte(`{"type":"charge.refunded"}`), nil)
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestCreateCustomerReusesExistingEmail(t *testing.T) {
	var created bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			assert.Equal(t, "ana@example.com", r.URL.Query().Get("email"))
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_existing","object":"customer","email":"ana@example.com"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			created = true
			_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	id, err := adapter.CreateCustomer(context.Background(), domain.CustomerInput{Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
	assert.False(t, created)
}

func TestCreateCheckoutSessionSendsReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[paygate_reference]"))
		assert.Equal(t, "2500", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_123","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_123","expires_at":1700003600}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	session, err := adapter.CreateCheckoutSession(context.Background(), domain.CheckoutSessionInput{
		PaymentIntentID: 42,
		Amount:          2500,
		Currency:        "USD",
		SuccessURL:      "https://example.com/ok",
		CancelURL:       "https://example.com/cancel",
		IdempotencyKey:  "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_123", session.URL)
	assert.Equal(t, time.Unix(1700003600, 0).UTC(), session.ExpiresAt)
}

func TestProviderErrorsAreClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("payment_intent") == "pi_busy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"overloaded"}}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	_, err := adapter.CreateRefund(context.Background(), domain.RefundInput{ProviderIntentID: "pi_declined", Amount: 100})
	require.ErrorIs(t, err, domain.ErrTerminalProvider)
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.DeclineInsufficientFunds, pe.Reason)
	assert.Equal(t, http.StatusPaymentRequired, pe.StatusCode)

	_, err = adapter.CreateRefund(context.Background(), domain.RefundInput{ProviderIntentID: "pi_busy", Amount: 100})
	require.ErrorIs(t, err, domain.ErrRetryableProvider)
	assert.True(t, domain.IsRetryable(err))
}

func TestDeleteCustomerIgnoresMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer"}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	require.NoError(t, adapter.DeleteCustomer(context.Background(), "cus_gone"))
}
