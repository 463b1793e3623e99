package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingTransport_WritesRequestAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index":
			w.Header().Set("Content-Type", "text/xml")
			_, _ = w.Write([]byte(`<posts count="7"></posts>`))
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
		}
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	lt, err := NewLoggingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)

	client := &http.Client{Transport: lt}

	resp, err := Get(context.Background(), client, server.URL+"/index", nil)
	require.NoError(t, err)
	body, _ := ParsePostsResponse(mustRead(t, resp))
	require.NotNil(t, body)
	assert.Equal(t, "7", body.Count, "body must still be readable after logging")

	resp, err = Get(context.Background(), client, server.URL+"/image.jpg", nil)
	require.NoError(t, err)
	resp.Body.Close()

	CloseAllLoggingTransports()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	logged := string(data)
	assert.Contains(t, logged, "--- Request")
	assert.Contains(t, logged, "GET /index")
	assert.Contains(t, logged, `<posts count="7"></posts>`)
	assert.Contains(t, logged, "(Body not logged)")
}

func mustRead(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}
