package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

type errorBody struct {
	Type          string               `json:"type"`
	Message       string               `json:"message"`
	Field         string               `json:"field,omitempty"`
	DeclineReason domain.DeclineReason `json:"decline_reason,omitempty"`
}

// AbortWithError writes the JSON error for err and stops the handler chain.
// Provider outages never reveal which processor failed.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func errorResponse(err error) (int, errorBody) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, errorBody{
			Type:    "validation_error",
			Message: validation.Error(),
			Field:   validation.Field,
		}
	}

	var provider *domain.ProviderError
	if errors.As(err, &provider) {
		if provider.Retryable {
			return http.StatusServiceUnavailable, errorBody{Type: "provider_unavailable", Message: domain.UnavailableMessage}
		}
		return http.StatusPaymentRequired, errorBody{
			Type:          "payment_declined",
			Message:       provider.UserMessage(),
			DeclineReason: provider.Reason,
		}
	}

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidEvent):
		return http.StatusBadRequest, errorBody{Type: "invalid_request", Message: err.Error()}
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest, errorBody{Type: "signature_invalid", Message: "webhook signature verification failed"}
	case errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrPaymentIntentNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrWebhookEventNotFound):
		return http.StatusNotFound, errorBody{Type: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrRefundExceedsCapturedAmount),
		errors.Is(err, domain.ErrUnsupportedOperation),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPaymentNotCaptured):
		return http.StatusUnprocessableEntity, errorBody{Type: err.Error(), Message: err.Error()}
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrUsageIngestInFlight):
		return http.StatusConflict, errorBody{Type: "conflict", Message: err.Error()}
	case errors.Is(err, domain.ErrNoProviderAvailable),
		errors.Is(err, domain.ErrRetryableProvider):
		return http.StatusServiceUnavailable, errorBody{Type: "provider_unavailable", Message: domain.UnavailableMessage}
	}
	return http.StatusInternalServerError, errorBody{Type: "internal_error", Message: "internal error"}
}

func invalidBody(err error) error {
	return domain.NewValidationError("body", err.Error())
}
