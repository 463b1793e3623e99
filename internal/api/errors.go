package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Causes attached to a TransportError for well-known HTTP statuses.
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check API key and user ID)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
)

// TransportError covers timeouts, connection failures and non-2xx statuses.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApiError is a well-formed response that signals an application-level rejection.
type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return "API rejected request: " + e.Message
}

// ParseError is a response body that could not be decoded.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("malformed API response: %v", e.Err)
	}
	return fmt.Sprintf("malformed API response: %v (body: %q)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// statusCause maps an HTTP status to one of the sentinel causes.
func statusCause(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrServerError
	}
	return fmt.Errorf("unexpected status code %d", code)
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Query parameters masked before a URL is stored in an error.
var credentialParams = []string{"api_key", "user_id"}

// redactURL masks credential query parameters in rawURL.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	masked := false
	for _, key := range credentialParams {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			masked = true
		}
	}
	if !masked {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
