package polar

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rawSecret = []byte("polar-signing-key")

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:      domain.ProviderPolar,
		AccessToken:   "polar_oat_test",
		WebhookSecret: "whsec_" + base64.StdEncoding.EncodeToString(rawSecret),
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedHeaders(id string, ts int64, payload []byte) http.Header {
	mac := hmac.New(sha256.New, rawSecret)
	_, _ = mac.Write([]byte(id + "." + strconv.FormatInt(ts, 10) + "."))
	_, _ = mac.Write(payload)
	headers := http.Header{}
	headers.Set("webhook-id", id)
	headers.Set("webhook-timestamp", strconv.FormatInt(ts, 10))
	headers.Set("webhook-signature", "v1,stale v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return headers
}

func TestFactoryRejectsMalformedSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{AccessToken: "x", WebhookSecret: "whsec_%%%"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestValidateWebhookSignature(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"type":"order.paid","data":{"id":"ord_1"}}`)
	headers := signedHeaders("msg_1", 1700000000, payload)

	assert.True(t, adapter.ValidateWebhookSignature(payload, headers))
	assert.False(t, adapter.ValidateWebhookSignature([]byte(`{"type":"order.paid","data":{"id":"ord_2"}}`), headers))

	replayed := headers.Clone()
	replayed.Set("webhook-id", "msg_2")
	assert.False(t, adapter.ValidateWebhookSignature(payload, replayed))
	assert.False(t, adapter.ValidateWebhookSignature(payload, http.Header{}))

	at, ok := adapter.WebhookTimestamp(headers)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), at)
}

func TestNormalizeWebhookEvent(t *testing.T) {
	adapter := newTestAdapter(t, "")
	ctx := context.Background()

	order := []byte(`{"type":"order.paid","timestamp":"2024-05-01T12:00:00Z","data":{"id":"ord_1","total_amount":4900,"currency":"usd","checkout_id":"co_1","customer_id":"cu_1","metadata":{"paygate_reference":"77"}}}`)
	event, err := adapter.NormalizeWebhookEvent(ctx, order, signedHeaders("msg_1", 1714564800, order))
	require.NoError(t, err)
	assert.Equal(t, "polar:msg_1", event.ID)
	assert.Equal(t, domain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, "77", event.Payment.Reference)
	assert.Equal(t, "ord_1", event.Payment.ProviderIntentID)
	assert.Equal(t, int64(4900), event.Payment.Amount)

	canceled := []byte(`{"type":"subscription.canceled","data":{"id":"sub_1","status":"active","cancel_at_period_end":true,"current_period_end":"2024-06-01T00:00:00Z","product_id":"prod_1"}}`)
	event, err = adapter.NormalizeWebhookEvent(ctx, canceled, signedHeaders("msg_2", 1714564800, canceled))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeSubscriptionCanceled, event.Type)
	assert.Equal(t, domain.SubscriptionStatusActive, event.Subscription.Status)
	assert.True(t, event.Subscription.CancelAtPeriodEnd)
	require.NotNil(t, event.Subscription.CancelAt)

	revoked := []byte(`{"type":"subscription.revoked","data":{"id":"sub_1","status":"active"}}`)
	event, err = adapter.NormalizeWebhookEvent(ctx, revoked, signedHeaders("msg_3", 1714564800, revoked))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeSubscriptionRevoked, event.Type)
	assert.Equal(t, domain.SubscriptionStatusCanceled, event.Subscription.Status)

	open := []byte(`{"type":"checkout.updated","data":{"id":"co_1","status":"open"}}`)
	_, err = adapter.NormalizeWebhookEvent(ctx, open, signedHeaders("msg_4", 1714564800, open))
	require.ErrorIs(t, err, domain.ErrEventIgnored)

	_, err = adapter.NormalizeWebhookEvent(ctx, order, http.Header{})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestCreateSubscriptionIsUnsupported(t *testing.T) {
	adapter := newTestAdapter(t, "")
	_, err := adapter.CreateSubscription(context.Background(), domain.SubscriptionInput{PlanID: "prod_1"})
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	assert.False(t, adapter.Capabilities().SubscriptionCreate)
}

func TestReportUsageIngestsEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/ingest", r.URL.Path)
		var body struct {
			Events []map[string]any `json:"events"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.Events, 1) {
			assert.Equal(t, "api_call", body.Events[0]["name"])
			assert.Equal(t, "cust_1", body.Events[0]["external_customer_id"])
			assert.Equal(t, "k1", body.Events[0]["external_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inserted":1}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	err := adapter.ReportUsage(context.Background(), domain.UsageEvent{
		CustomerID:     "cust_1",
		EventName:      "api_call",
		Value:          3,
		IdempotencyKey: "k1",
		Timestamp:      time.Now(),
	})
	require.NoError(t, err)
}

func TestGracefulCancelPatchesFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["cancel_at_period_end"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","status":"active","cancel_at_period_end":true,"current_period_end":"2024-06-01T00:00:00Z"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	sub, err := adapter.CancelSubscription(context.Background(), "sub_1", domain.CancelOptions{})
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}
