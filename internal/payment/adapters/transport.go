package adapters

import (
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-resty/resty/v2"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

const userAgent = "paygate/1.0"

// NewHTTPClient is the resty client shared by the REST-based adapters.
// Retries are left to the caller so the breaker sees every failure.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
}

// ErrorDecoder extracts a provider error code, decline reason and message
// from an error response body.
type ErrorDecoder func(body []byte) (code string, reason domain.DeclineReason, message string)

// Classify turns a resty outcome into nil, a retryable or a terminal
// *domain.ProviderError.
func Classify(provider domain.ProviderName, op string, resp *resty.Response, err error, decode ErrorDecoder) error {
	if err != nil {
		return ClassifyTransport(provider, op, err)
	}
	if resp == nil {
		return domain.NewRetryableError(provider, op, 0, errors.New("empty response"))
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	if domain.RetryableStatus(status) {
		return domain.NewRetryableError(provider, op, status, errors.New(http.StatusText(status)))
	}
	var (
		code    string
		reason  domain.DeclineReason
		message string
	)
	if decode != nil {
		code, reason, message = decode(resp.Body())
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return domain.NewTerminalError(provider, op, status, code, reason, message)
}

// ClassifyTransport treats every failure to get an answer as retryable:
// deadline exceeded, cancellation and refused connections alike.
func ClassifyTransport(provider domain.ProviderName, op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return domain.NewRetryableError(provider, op, 0, err)
}

// ReferenceMetadata copies caller metadata and stamps the local record id so
// webhooks can be matched back.
func ReferenceMetadata(metadata map[string]string, reference snowflake.ID) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if reference != 0 {
		out[domain.MetadataReferenceKey] = reference.String()
	}
	return out
}

func ReadMetadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}
