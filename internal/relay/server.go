package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-booru-download/internal/api"

	log "github.com/sirupsen/logrus"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8787"

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, HEAD, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type",
}

// Server forwards index queries and image downloads for clients that cannot
// reach the image board directly.
type Server struct {
	Addr     string
	IndexURL string
	client   *http.Client
}

// NewServer creates a relay. transport may be nil.
func NewServer(addr, indexURL string, transport http.RoundTripper) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if indexURL == "" {
		indexURL = api.DefaultIndexURL
	}
	return &Server{
		Addr:     addr,
		IndexURL: indexURL,
		client:   &http.Client{Transport: transport},
	}
}

// Handler returns the relay routes wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", s.handleAPI)
	mux.HandleFunc("/image", s.handleImage)
	mux.HandleFunc("/", s.handleLanding)
	return withCORS(mux)
}

// Serve listens on s.Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Relay listening on %s (index: %s)", s.Addr, s.IndexURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down relay...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// indexTarget appends the incoming query to the upstream index URL.
func (s *Server) indexTarget(rawQuery string) string {
	if rawQuery == "" {
		return s.IndexURL
	}
	sep := "?"
	if strings.Contains(s.IndexURL, "?") {
		sep = "&"
	}
	return s.IndexURL + sep + rawQuery
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	target := s.indexTarget(r.URL.RawQuery)
	log.Debugf("[Relay] /api -> %s", target)

	resp, err := s.fetch(r, target)
	if err != nil {
		log.WithError(err).Error("[Relay] Index request failed")
		http.Error(w, "Error fetching from the API endpoint: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyResponse(w, resp)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	imageURL := r.URL.Query().Get("url")
	if imageURL == "" {
		http.Error(w, `Error: The "url" query parameter is missing.`, http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(imageURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "Error: The \"url\" query parameter must be an http(s) URL.", http.StatusBadRequest)
		return
	}

	resp, err := s.fetch(r, imageURL)
	if err != nil {
		log.WithError(err).Errorf("[Relay] Image request for %s failed", imageURL)
		http.Error(w, "Error fetching the image file: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		http.Error(w, fmt.Sprintf("Failed to fetch the image. Status: %d", resp.StatusCode), resp.StatusCode)
		return
	}

	copyResponse(w, resp)
}

func (s *Server) fetch(r *http.Request, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = api.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	return s.client.Do(req)
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	for _, h := range []string{"Content-Type", "Content-Length", "Cache-Control", "Last-Modified"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.WithError(err).Warn("[Relay] Client connection dropped while streaming")
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, landingPage)
}

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>booru relay</title>
  <style>
    body { font-family: sans-serif; background: #f3f4f6; color: #111827; display: flex; justify-content: center; padding-top: 10vh; }
    .box { max-width: 600px; background: #fff; padding: 2rem; border-radius: 0.75rem; }
    code { background: #e5e7eb; padding: 0.2rem 0.4rem; border-radius: 0.25rem; }
  </style>
</head>
<body>
  <div class="box">
    <h1>booru relay</h1>
    <p>This server forwards index queries and image downloads.</p>
    <p><code>/api?tags=cat&amp;limit=100&amp;pid=0</code> queries the post index.</p>
    <p><code>/image?url=&lt;encoded image URL&gt;</code> streams an image.</p>
  </div>
</body>
</html>
`
