package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider call failed.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether the resilience layer should treat this
// class of provider failure as transient.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// Error is a structured provider error carrying the HTTP status and a
// truncated response body.
type Error struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Body      string
	RequestID string
	Cause     error
}

const maxBodyTruncate = 2048

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Body != "" {
		parts = append(parts, e.Body)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewHTTPError builds a provider Error from a non-2xx HTTP response, truncating
// body to maxBodyTruncate bytes.
func NewHTTPError(providerName, model string, status int, body []byte) *Error {
	truncated := string(body)
	if len(truncated) > maxBodyTruncate {
		truncated = truncated[:maxBodyTruncate] + "...(truncated)"
	}
	return &Error{
		Reason:   classifyStatus(status),
		Provider: providerName,
		Model:    model,
		Status:   status,
		Body:     truncated,
	}
}

func classifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// ClassifyCause inspects a non-HTTP error (network failures, SDK wrap
// errors) and returns the matching FailoverReason by substring heuristic;
// structured classification is always preferred when available.
func ClassifyCause(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return FailoverRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailoverAuth
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return FailoverTimeout
	default:
		return FailoverUnknown
	}
}

// AsProviderError extracts an *Error from err's chain, if present.
func AsProviderError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
