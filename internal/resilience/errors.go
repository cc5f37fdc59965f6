package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps a model-service failure that is safe to retry:
// rate limits (429), 5xx responses, and connection failures.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the provider rejected the call for quota.
func (e *TransientError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Classify wraps err as a TransientError when the status code or message
// marks it as retryable, otherwise it returns err unchanged.
func Classify(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	if statusCode == 0 {
		if IsRateLimit(err) {
			return NewTransientError(err, http.StatusTooManyRequests)
		}
		if IsTransient(err) {
			return NewTransientError(err, 0)
		}
	}
	return err
}

// IsRateLimit reports whether err is a provider rate-limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) && te.RateLimited() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"status code: 429", "rate limit", "rate_limit", "too many requests"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures, 5xx bodies).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
		"status code: 500",
		"status code: 502",
		"status code: 503",
		"status code: 504",
		"overloaded",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return IsRateLimit(err)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // Anthropic overloaded
		return true
	default:
		return false
	}
}
