package openai

import (
	"errors"
	"regexp"
	"strconv"
)

// APIError carries the HTTP status of a failed API call.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string { return e.Err.Error() }

func (e *APIError) Unwrap() error { return e.Err }

// langchaingo reports HTTP failures only in the message text.
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// StatusCode extracts the HTTP status of a failed call, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}
