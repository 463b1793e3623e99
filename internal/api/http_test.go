package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go-booru-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL_MergesQuery(t *testing.T) {
	got, err := BuildURL("https://example.com/index.php?page=dapi&s=post", url.Values{"tags": {"cat dog"}, "pid": {"2"}})
	require.NoError(t, err)

	parsed, err := url.Parse(got)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "dapi", q.Get("page"))
	assert.Equal(t, "post", q.Get("s"))
	assert.Equal(t, "cat dog", q.Get("tags"))
	assert.Equal(t, "2", q.Get("pid"))

	unchanged, err := BuildURL("https://example.com/a?x=1", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?x=1", unchanged)
}

func TestGet_SetsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, UserAgent, gotUA)
}

func TestGet_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL+"/missing", nil)
	assert.Nil(t, resp)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestGet_ErrorsMaskCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	params := url.Values{"tags": {"cat"}, "api_key": {"s3cr3t-key"}, "user_id": {"4242"}}

	_, err := Get(context.Background(), server.Client(), server.URL, params)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.NotContains(t, err.Error(), "s3cr3t-key")
	assert.NotContains(t, err.Error(), "4242")
	assert.Contains(t, err.Error(), "api_key=REDACTED")
	assert.Contains(t, err.Error(), "tags=cat")

	// Connection failures carry the URL inside *url.Error as well.
	server.Close()
	_, err = Get(context.Background(), &http.Client{Timeout: time.Second}, server.URL, params)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Zero(t, transportErr.StatusCode)
	assert.NotContains(t, err.Error(), "s3cr3t-key")
	assert.NotContains(t, err.Error(), "4242")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://booru.example/index.php?page=dapi", redactURL("https://booru.example/index.php?page=dapi"))
	assert.Equal(t, "https://booru.example/index.php?api_key=REDACTED&tags=a&user_id=REDACTED",
		redactURL("https://booru.example/index.php?tags=a&api_key=k&user_id=1"))
}

func TestGet_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := &http.Client{Timeout: 20 * time.Millisecond}
	_, err := Get(context.Background(), client, server.URL, nil)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Zero(t, transportErr.StatusCode)
}

func TestWithProxy_ClonesTransport(t *testing.T) {
	base := &http.Transport{}
	proxy := &models.Proxy{Address: "10.1.2.3:3128"}

	rt := WithProxy(base, proxy)
	proxied, ok := rt.(*http.Transport)
	require.True(t, ok)
	assert.NotSame(t, base, proxied)
	assert.Nil(t, base.Proxy, "base transport must not be modified")

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	proxyURL, err := proxied.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.2.3:3128", proxyURL.String())

	assert.Same(t, base, WithProxy(base, nil))
}

func TestWithProxy_LoggingTransport(t *testing.T) {
	lt, err := NewLoggingTransport(&http.Transport{}, t.TempDir()+"/api.log")
	require.NoError(t, err)
	defer CloseAllLoggingTransports()

	rt := WithProxy(lt, &models.Proxy{Address: "10.1.2.3:3128"})
	wrapped, ok := rt.(*LoggingTransport)
	require.True(t, ok)
	assert.Same(t, lt.sink, wrapped.sink)

	inner, ok := wrapped.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, inner.Proxy)
}

func TestNewHTTPClient_RoutesThroughProxy(t *testing.T) {
	var proxiedHost string
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedHost = r.Host
		_, _ = w.Write([]byte(`{"origin": "10.0.0.1"}`))
	}))
	defer proxyServer.Close()

	proxyAddr := strings.TrimPrefix(proxyServer.URL, "http://")
	client := NewHTTPClient(http.DefaultTransport, &models.Proxy{Address: proxyAddr}, 5*time.Second)

	resp, err := Get(context.Background(), client, "http://upstream.invalid/ip", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "upstream.invalid", proxiedHost)
	assert.Equal(t, 5*time.Second, client.Timeout)
}
