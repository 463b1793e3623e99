package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Global slice to keep track of all open API log files
var (
	activeLogSinks []*logSink
	sinksMu        sync.Mutex
)

// logSink is a buffered log file shared by every transport derived from the
// same LoggingTransport (proxied copies write to the same file).
type logSink struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// LoggingTransport wraps an http.RoundTripper to log request and response details.
type LoggingTransport struct {
	Transport http.RoundTripper
	sink      *logSink
}

// NewLoggingTransport creates a new LoggingTransport.
// It opens the specified log file for appending.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	// #nosec G304
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	sink := &logSink{file: f, writer: bufio.NewWriter(f)}

	sinksMu.Lock()
	activeLogSinks = append(activeLogSinks, sink)
	count := len(activeLogSinks)
	sinksMu.Unlock()
	log.Debugf("Registered API log file %s. Total active: %d", logFilePath, count)

	return &LoggingTransport{Transport: transport, sink: sink}, nil
}

// WithTransport returns a copy that wraps rt and writes to the same log file.
func (t *LoggingTransport) WithTransport(rt http.RoundTripper) *LoggingTransport {
	return &LoggingTransport{Transport: rt, sink: t.sink}
}

// CloseIdleConnections forwards to the wrapped transport when it supports it.
func (t *LoggingTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.Transport.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		log.WithError(err).Error("[LogTransport] Failed to dump API request for logging")
	} else {
		t.sink.write(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), string(reqDump)))
	}

	// Perform the actual request outside the lock
	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		t.sink.write(fmt.Sprintf("--- Response Error (%s, Duration: %v) ---\n%s", time.Now().Format(time.RFC3339), duration, err.Error()))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !loggableBody(contentType) {
		respDump, _ := httputil.DumpResponse(resp, false)
		t.sink.write(fmt.Sprintf("--- Response Headers (%s, Duration: %v, Type: %s) ---\n%s\n(Body not logged)", time.Now().Format(time.RFC3339), duration, contentType, string(respDump)))
		return resp, nil
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.WithError(closeErr).Warn("[LogTransport] Failed to close original response body before replacing it")
	}
	if readErr != nil {
		log.WithError(readErr).Error("[LogTransport] Failed to read response body for logging")
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	respDumpHeader, _ := httputil.DumpResponse(resp, false)
	t.sink.write(fmt.Sprintf("--- Response Headers (%s, Duration: %v) ---\n%s\n--- Response Body (%s) ---\n%s", time.Now().Format(time.RFC3339), duration, string(respDumpHeader), contentType, string(bodyBytes)))
	return resp, nil
}

// Only index and autocomplete payloads are logged; image bodies are skipped.
func loggableBody(contentType string) bool {
	for _, prefix := range []string{"application/json", "application/xml", "text/xml", "text/plain"} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

func (s *logSink) write(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.WriteString(entry + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\nLog message: %s\n", err, entry)
		return
	}
	if err := s.writer.Flush(); err != nil {
		log.WithError(err).Error("[LogTransport] Failed to flush log writer")
	}
}

func (s *logSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFlush := s.writer.Flush()
	errClose := s.file.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports flushes and closes every API log file opened so far.
func CloseAllLoggingTransports() {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	closed := 0
	for _, s := range activeLogSinks {
		if err := s.close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing API log file %s: %v\n", s.file.Name(), err)
			continue
		}
		closed++
	}
	log.Debugf("Closed %d API log files.", closed)
	activeLogSinks = nil
}
