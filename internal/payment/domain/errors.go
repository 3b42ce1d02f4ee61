package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation                  = errors.New("validation_error")
	ErrRetryableProvider           = errors.New("retryable_provider_error")
	ErrTerminalProvider            = errors.New("terminal_provider_error")
	ErrSignatureInvalid            = errors.New("signature_invalid")
	ErrRefundExceedsCapturedAmount = errors.New("refund_exceeds_captured_amount")
	ErrNoProviderAvailable         = errors.New("no_provider_available")
	ErrUnsupportedOperation        = errors.New("unsupported_operation")

	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrCustomerNotFound      = errors.New("customer_not_found")
	ErrPaymentIntentNotFound = errors.New("payment_intent_not_found")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrWebhookEventNotFound  = errors.New("webhook_event_not_found")
	ErrVersionConflict       = errors.New("version_conflict")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrPaymentNotCaptured    = errors.New("payment_not_captured")
	ErrUsageIngestInFlight   = errors.New("usage_ingest_in_flight")
)

// DeclineReason is the actionable reason surfaced for a terminal decline.
type DeclineReason string

const (
	DeclineInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineExpiredCard       DeclineReason = "expired_card"
	DeclineCardDeclined      DeclineReason = "card_declined"
	DeclineIncorrectCVC      DeclineReason = "incorrect_cvc"
	DeclineProcessingError   DeclineReason = "processing_error"
)

var declineMessages = map[DeclineReason]string{
	DeclineInsufficientFunds: "the card has insufficient funds",
	DeclineExpiredCard:       "the card has expired",
	DeclineCardDeclined:      "the card was declined",
	DeclineIncorrectCVC:      "the card security code is incorrect",
	DeclineProcessingError:   "the payment could not be processed",
}

// UnavailableMessage is the only thing callers see for a provider outage.
const UnavailableMessage = "temporarily unavailable, please retry"

// ProviderError annotates every failed adapter call as retryable or terminal.
type ProviderError struct {
	Provider   ProviderName
	Op         string
	StatusCode int
	Code       string
	Reason     DeclineReason
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	msg := fmt.Sprintf("%s %s %s failure", e.Provider, e.Op, kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	kind := ErrTerminalProvider
	if e.Retryable {
		kind = ErrRetryableProvider
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// UserMessage never leaks routing or provider internals.
func (e *ProviderError) UserMessage() string {
	if e.Retryable {
		return UnavailableMessage
	}
	if msg, ok := declineMessages[e.Reason]; ok {
		return msg
	}
	if e.Message != "" {
		return e.Message
	}
	return "the payment provider declined the request"
}

func NewRetryableError(provider ProviderName, op string, statusCode int, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, Op: op, StatusCode: statusCode, Retryable: true, Err: err}
	if err != nil {
		pe.Message = err.Error()
	}
	return pe
}

func NewTerminalError(provider ProviderName, op string, statusCode int, code string, reason DeclineReason, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: statusCode,
		Code:       code,
		Reason:     reason,
		Message:    message,
	}
}

// RetryableStatus reports whether an HTTP status from a processor may be retried.
func RetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryableProvider)
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s: failed %s", e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
