package mercadopago

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

const (
	signatureHeader = "X-Signature"
	requestIDHeader = "X-Request-Id"
)

// mpNotification is unsigned apart from data.id.
type mpNotification struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type mpResourceRef struct {
	ID flexID `json:"id"`
}

type mpPayment struct {
	ID                        flexID         `json:"id"`
	Status                    string         `json:"status"`
	StatusDetail              string         `json:"status_detail"`
	TransactionAmount         float64        `json:"transaction_amount"`
	TransactionAmountRefunded float64        `json:"transaction_amount_refunded"`
	DateLastUpdated           string         `json:"date_last_updated"`
	CurrencyID                string         `json:"currency_id"`
	ExternalReference         string         `json:"external_reference"`
	PreferenceID              string         `json:"preference_id"`
	PaymentMethodID           string         `json:"payment_method_id"`
	Metadata                  map[string]any `json:"metadata"`
	Payer                     struct {
		ID flexID `json:"id"`
	} `json:"payer"`
}

// ValidateWebhookSignature checks x-signature against the manifest
// id:<data.id>;request-id:<x-request-id>;ts:<ts>;
func (a *Adapter) ValidateWebhookSignature(payload []byte, headers http.Header) bool {
	ts, signature, ok := parseSignatureHeader(headers.Get(signatureHeader))
	if !ok {
		return false
	}
	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return false
	}
	var ref mpResourceRef
	if len(notification.Data) > 0 {
		if err := json.Unmarshal(notification.Data, &ref); err != nil {
			return false
		}
	}

	expected := sign(a.webhookSecret, manifest(string(ref.ID), headers.Get(requestIDHeader), ts))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (a *Adapter) WebhookTimestamp(headers http.Header) (time.Time, bool) {
	ts, _, ok := parseSignatureHeader(headers.Get(signatureHeader))
	if !ok {
		return time.Time{}, false
	}
	value, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	// ts is documented in seconds but some deliveries carry milliseconds.
	if value > 1e12 {
		return time.UnixMilli(value).UTC(), true
	}
	return time.Unix(value, 0).UTC(), true
}

// NormalizeWebhookEvent treats the notification as a pointer. Only data.id
// is covered by x-signature, so status, amounts and the event id come from
// the resource fetched back from the API.
func (a *Adapter) NormalizeWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	var ref mpResourceRef
	if len(notification.Data) > 0 {
		if err := json.Unmarshal(notification.Data, &ref); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}
	resourceID := strings.TrimSpace(string(ref.ID))
	if resourceID == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.WebhookEvent{
		Provider:   domain.ProviderMercadoPago,
		RawPayload: payload,
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(notification.Type)) {
	case "payment":
		out, err = a.normalizePayment(ctx, out, resourceID)
	case "subscription_preapproval", "preapproval":
		out, err = a.normalizePreapproval(ctx, out, resourceID)
	default:
		return nil, domain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	out.ID = domain.EventID(domain.ProviderMercadoPago, out.ProviderEventID)
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}
	return out, nil
}

func (a *Adapter) normalizePayment(ctx context.Context, out *domain.WebhookEvent, id string) (*domain.WebhookEvent, error) {
	var payment mpPayment
	if err := a.fetch(ctx, "fetch_payment", "/v1/payments/{id}", id, &payment); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(payment.CurrencyID))
	reference := strings.TrimSpace(payment.ExternalReference)
	if reference == "" {
		if value, ok := payment.Metadata[domain.MetadataReferenceKey].(string); ok {
			reference = value
		}
	}
	data := &domain.PaymentEventData{
		Reference:          reference,
		ProviderIntentID:   id,
		ProviderSessionID:  payment.PreferenceID,
		ProviderCustomerID: string(payment.Payer.ID),
		Amount:             ToMinorUnits(payment.TransactionAmount, currency),
		RefundedAmount:     ToMinorUnits(payment.TransactionAmountRefunded, currency),
		Currency:           currency,
		PaymentMethod:      payment.PaymentMethodID,
	}

	status := strings.ToLower(strings.TrimSpace(payment.Status))
	switch status {
	case "approved":
		if data.RefundedAmount > 0 {
			out.Type = domain.EventTypePaymentRefunded
		} else {
			out.Type = domain.EventTypePaymentSucceeded
		}
	case "refunded", "partially_refunded":
		out.Type = domain.EventTypePaymentRefunded
	case "rejected":
		out.Type = domain.EventTypePaymentFailed
		data.FailureReason = declineReason(payment.StatusDetail)
		if data.FailureReason == "" {
			data.FailureReason = domain.DeclineProcessingError
		}
		data.FailureMessage = payment.StatusDetail
	default:
		return nil, domain.ErrEventIgnored
	}

	// one event per observed state, so redeliveries of the same state dedupe
	out.ProviderEventID = fmt.Sprintf("payment:%s:%s:%d", id, status, data.RefundedAmount)
	out.OccurredAt = parseTime(payment.DateLastUpdated)
	out.Payment = data
	return out, nil
}

func (a *Adapter) normalizePreapproval(ctx context.Context, out *domain.WebhookEvent, id string) (*domain.WebhookEvent, error) {
	var preapproval mpPreapproval
	if err := a.fetch(ctx, "fetch_preapproval", "/preapproval/{id}", id, &preapproval); err != nil {
		return nil, err
	}
	sub := preapproval.toProvider()
	if sub.ID == "" {
		sub.ID = id
	}
	out.Subscription = &domain.SubscriptionEventData{
		Reference:              strings.TrimSpace(preapproval.ExternalReference),
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     string(preapproval.PayerID),
		Status:                 sub.Status,
		PlanID:                 sub.PlanID,
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		CancelAt:               sub.CancelAt,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}

	switch {
	case sub.Status == domain.SubscriptionStatusCanceled:
		out.Type = domain.EventTypeSubscriptionCanceled
	case preapproval.LastModified == "" || preapproval.LastModified == preapproval.DateCreated:
		out.Type = domain.EventTypeSubscriptionCreated
	default:
		out.Type = domain.EventTypeSubscriptionUpdated
	}

	version := preapproval.LastModified
	if version == "" {
		version = preapproval.DateCreated
	}
	out.ProviderEventID = fmt.Sprintf("preapproval:%s:%s:%s", sub.ID, strings.ToLower(preapproval.Status), version)
	out.OccurredAt = parseTime(version)
	return out, nil
}

// fetch reads the resource a notification points at. A resource the API does
// not know was not produced by this account.
func (a *Adapter) fetch(ctx context.Context, op, path, id string, result any) error {
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(result).
		Get(path)
	if err == nil && resp != nil && resp.StatusCode() == http.StatusNotFound {
		return domain.ErrInvalidEvent
	}
	return adapters.Classify(domain.ProviderMercadoPago, op, resp, err, decodeError)
}

func parseSignatureHeader(header string) (string, string, bool) {
	var ts, signature string
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "ts":
			ts = strings.TrimSpace(keyValue[1])
		case "v1":
			signature = strings.TrimSpace(keyValue[1])
		}
	}
	if ts == "" || signature == "" {
		return "", "", false
	}
	return ts, signature, true
}

func manifest(dataID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
