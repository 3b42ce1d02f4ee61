package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v74"
)

const signatureHeader = "Stripe-Signature"

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID                string         `json:"id"`
	ClientReferenceID string         `json:"client_reference_id"`
	Customer          string         `json:"customer"`
	PaymentIntent     string         `json:"payment_intent"`
	PaymentStatus     string         `json:"payment_status"`
	AmountTotal       int64          `json:"amount_total"`
	Currency          string         `json:"currency"`
	Created           int64          `json:"created"`
	Metadata          map[string]any `json:"metadata"`
}

type stripePaymentIntent struct {
	ID               string           `json:"id"`
	Amount           int64            `json:"amount"`
	AmountReceived   int64            `json:"amount_received"`
	Currency         string           `json:"currency"`
	Customer         string           `json:"customer"`
	PaymentMethod    string           `json:"payment_method"`
	Created          int64            `json:"created"`
	Metadata         map[string]any   `json:"metadata"`
	LastPaymentError *stripeCardError `json:"last_payment_error"`
}

type stripeCardError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Customer       string         `json:"customer"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string         `json:"id"`
	Customer           string         `json:"customer"`
	Status             string         `json:"status"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	TrialEnd           int64          `json:"trial_end"`
	CancelAt           int64          `json:"cancel_at"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	Metadata           map[string]any `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ValidateWebhookSignature checks the v1 HMAC only. The replay window is
// enforced by the caller through WebhookTimestamp.
func (a *Adapter) ValidateWebhookSignature(payload []byte, headers http.Header) bool {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return false
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

func (a *Adapter) WebhookTimestamp(headers http.Header) (time.Time, bool) {
	timestamp, _, err := parseStripeSignature(strings.TrimSpace(headers.Get(signatureHeader)))
	if err != nil {
		return time.Time{}, false
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0).UTC(), true
}

func (a *Adapter) NormalizeWebhookEvent(_ context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.WebhookEvent{
		ID:              domain.EventID(domain.ProviderStripe, event.ID),
		Provider:        domain.ProviderStripe,
		ProviderEventID: event.ID,
		OccurredAt:      timestamp(event.Created, 0),
		RawPayload:      payload,
	}

	var err error
	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		out.Type = domain.EventTypeCheckoutCompleted
		out.Payment, err = parseCheckoutSession(event)
	case "payment_intent.succeeded":
		out.Type = domain.EventTypePaymentSucceeded
		out.Payment, err = parsePaymentIntent(event)
	case "payment_intent.payment_failed":
		out.Type = domain.EventTypePaymentFailed
		out.Payment, err = parsePaymentIntent(event)
	case "charge.refunded":
		out.Type = domain.EventTypePaymentRefunded
		out.Payment, err = parseCharge(event)
	case "customer.subscription.created":
		out.Type = domain.EventTypeSubscriptionCreated
		out.Subscription, err = parseSubscription(event)
	case "customer.subscription.updated":
		out.Type = domain.EventTypeSubscriptionUpdated
		out.Subscription, err = parseSubscription(event)
	case "customer.subscription.deleted":
		out.Type = domain.EventTypeSubscriptionCanceled
		out.Subscription, err = parseSubscription(event)
		if err == nil {
			out.Subscription.Status = domain.SubscriptionStatusCanceled
		}
	default:
		return nil, domain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseCheckoutSession(event stripeEvent) (*domain.PaymentEventData, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	reference := readMetadataValue(session.Metadata, domain.MetadataReferenceKey)
	if reference == "" {
		reference = strings.TrimSpace(session.ClientReferenceID)
	}
	return &domain.PaymentEventData{
		Reference:          reference,
		ProviderIntentID:   session.PaymentIntent,
		ProviderSessionID:  session.ID,
		ProviderCustomerID: session.Customer,
		Amount:             session.AmountTotal,
		Currency:           strings.ToUpper(strings.TrimSpace(session.Currency)),
	}, nil
}

func parsePaymentIntent(event stripeEvent) (*domain.PaymentEventData, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	data := &domain.PaymentEventData{
		Reference:          readMetadataValue(intent.Metadata, domain.MetadataReferenceKey),
		ProviderIntentID:   intent.ID,
		ProviderCustomerID: intent.Customer,
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(intent.Currency)),
		PaymentMethod:      intent.PaymentMethod,
	}
	if failure := intent.LastPaymentError; failure != nil {
		data.FailureReason = declineReason(failure.Code, failure.DeclineCode)
		data.FailureMessage = failure.Message
	}
	return data, nil
}

func parseCharge(event stripeEvent) (*domain.PaymentEventData, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return &domain.PaymentEventData{
		Reference:          readMetadataValue(charge.Metadata, domain.MetadataReferenceKey),
		ProviderIntentID:   charge.PaymentIntent,
		ProviderCustomerID: charge.Customer,
		Amount:             charge.Amount,
		RefundedAmount:     charge.AmountRefunded,
		Currency:           strings.ToUpper(strings.TrimSpace(charge.Currency)),
	}, nil
}

func parseSubscription(event stripeEvent) (*domain.SubscriptionEventData, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	data := &domain.SubscriptionEventData{
		Reference:              readMetadataValue(sub.Metadata, domain.MetadataReferenceKey),
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     sub.Customer,
		Status:                 mapSubscriptionStatus(sub.Status),
		CurrentPeriodStart:     unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTime(sub.CurrentPeriodEnd),
		TrialEnd:               unixTimePtr(sub.TrialEnd),
		CancelAt:               unixTimePtr(sub.CancelAt),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
	if len(sub.Items.Data) > 0 {
		data.PlanID = sub.Items.Data[0].Price.ID
	}
	return data, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return adapters.ReadMetadataString(metadata, key)
}

// classify maps stripe-go errors onto the gateway's retryable/terminal split.
func classify(op string, err error) error {
	var se *stripego.Error
	if !errors.As(err, &se) {
		return adapters.ClassifyTransport(domain.ProviderStripe, op, err)
	}
	status := se.HTTPStatusCode
	if status == 0 || domain.RetryableStatus(status) || se.Type == stripego.ErrorTypeAPI {
		return domain.NewRetryableError(domain.ProviderStripe, op, status, se)
	}
	reason := declineReason(string(se.Code), string(se.DeclineCode))
	return domain.NewTerminalError(domain.ProviderStripe, op, status, string(se.Code), reason, se.Msg)
}

func declineReason(code, declineCode string) domain.DeclineReason {
	switch declineCode {
	case string(stripego.DeclineCodeInsufficientFunds):
		return domain.DeclineInsufficientFunds
	case "expired_card":
		return domain.DeclineExpiredCard
	case "incorrect_cvc":
		return domain.DeclineIncorrectCVC
	case "processing_error":
		return domain.DeclineProcessingError
	}
	switch stripego.ErrorCode(code) {
	case stripego.ErrorCodeExpiredCard:
		return domain.DeclineExpiredCard
	case stripego.ErrorCodeIncorrectCVC:
		return domain.DeclineIncorrectCVC
	case stripego.ErrorCodeProcessingError:
		return domain.DeclineProcessingError
	case stripego.ErrorCodeCardDeclined:
		return domain.DeclineCardDeclined
	}
	return ""
}
