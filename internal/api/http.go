package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-booru-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// UserAgent is sent with every outbound request.
const UserAgent = "booru-downloader/1.0 (+https://github.com/)"

// NewHTTPClient returns a client that routes through proxy when it is non-nil.
func NewHTTPClient(base http.RoundTripper, proxy *models.Proxy, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: WithProxy(base, proxy),
		Timeout:   timeout,
	}
}

// WithProxy returns a RoundTripper that sends requests through proxy.
// The base transport is never modified.
func WithProxy(rt http.RoundTripper, proxy *models.Proxy) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if proxy.URL() == nil {
		return rt
	}
	switch t := rt.(type) {
	case *http.Transport:
		proxied := t.Clone()
		proxied.Proxy = http.ProxyURL(proxy.URL())
		return proxied
	case *LoggingTransport:
		return t.WithTransport(WithProxy(t.Transport, proxy))
	default:
		log.Warnf("Transport %T cannot be routed through proxy %s, using it unchanged", rt, proxy)
		return rt
	}
}

// BuildURL merges params into the existing query of rawURL.
func BuildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for key, values := range params {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Get issues a GET request. Transport failures and non-2xx statuses are
// returned as *TransportError; on success the caller owns resp.Body.
func Get(ctx context.Context, client *http.Client, rawURL string, params url.Values) (*http.Response, error) {
	reqURL, err := BuildURL(rawURL, params)
	if err != nil {
		return nil, &TransportError{URL: redactURL(rawURL), Err: err}
	}
	safeURL := redactURL(reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{URL: safeURL, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		// *url.Error repeats the full request URL in its message
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = safeURL
		}
		return nil, &TransportError{URL: safeURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &TransportError{URL: safeURL, StatusCode: resp.StatusCode, Err: statusCause(resp.StatusCode)}
	}
	return resp, nil
}
