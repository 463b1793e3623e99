package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go-booru-download/internal/api"
	"go-booru-download/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	DefaultListURL      = "https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all"
	DefaultProbeURL     = "https://httpbin.org/ip"
	DefaultListTimeout  = 15 * time.Second
	DefaultProbeTimeout = 10 * time.Second

	maxListBytes = 10 << 20
)

// Kind tells why resolution failed.
type Kind int

const (
	ListFetchFailed Kind = iota
	NoWorkingProxy
)

func (k Kind) String() string {
	switch k {
	case ListFetchFailed:
		return "ListFetchFailed"
	case NoWorkingProxy:
		return "NoWorkingProxy"
	}
	return "Unknown"
}

// ResolutionError is returned when no usable proxy could be found.
type ResolutionError struct {
	Kind Kind
	Err  error
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case ListFetchFailed:
		return fmt.Sprintf("could not fetch proxy list: %v", e.Err)
	case NoWorkingProxy:
		if e.Err != nil {
			return fmt.Sprintf("no working proxy found: %v", e.Err)
		}
		return "no working proxy found"
	}
	return fmt.Sprintf("proxy resolution failed: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *ResolutionError of kind k.
func IsKind(err error, k Kind) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == k
}

// Resolver picks the first candidate from a public proxy list that can
// reach ProbeURL.
type Resolver struct {
	ListURL      string
	ProbeURL     string
	ListTimeout  time.Duration
	ProbeTimeout time.Duration
	Transport    http.RoundTripper
	Shuffle      func([]string)
	Log          logrus.FieldLogger
}

// NewResolver creates a Resolver from cfg, filling in defaults.
func NewResolver(cfg models.ProxyConfig, transport http.RoundTripper) *Resolver {
	r := &Resolver{
		ListURL:      cfg.ListURL,
		ProbeURL:     cfg.ProbeURL,
		ListTimeout:  time.Duration(cfg.ListTimeoutSec) * time.Second,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutSec) * time.Second,
		Transport:    transport,
	}
	if r.ListURL == "" {
		r.ListURL = DefaultListURL
	}
	if r.ProbeURL == "" {
		r.ProbeURL = DefaultProbeURL
	}
	if r.ListTimeout <= 0 {
		r.ListTimeout = DefaultListTimeout
	}
	if r.ProbeTimeout <= 0 {
		r.ProbeTimeout = DefaultProbeTimeout
	}
	return r
}

// Resolve returns the first candidate that answers a probe. Candidates are
// tried in random order and each one at most once.
func (r *Resolver) Resolve(ctx context.Context) (*models.Proxy, error) {
	logger := r.logger()

	logger.Info("Fetching proxy list...")
	candidates, err := r.fetchCandidates(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ResolutionError{Kind: ListFetchFailed, Err: err}
	}
	logger.Infof("Found %d candidate proxies", len(candidates))

	r.shuffle(candidates)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Infof("Testing proxy: %s", candidate)
		if err := r.probe(ctx, candidate); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).Debugf("Probe through %s failed", candidate)
			logger.Warnf("Proxy %s failed. Trying next...", candidate)
			continue
		}

		logger.Infof("Success! Using proxy: %s", candidate)
		return &models.Proxy{Address: candidate}, nil
	}

	return nil, &ResolutionError{Kind: NoWorkingProxy}
}

func (r *Resolver) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func (r *Resolver) shuffle(candidates []string) {
	if r.Shuffle != nil {
		r.Shuffle(candidates)
		return
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}

func (r *Resolver) fetchCandidates(ctx context.Context) ([]string, error) {
	client := &http.Client{Transport: r.Transport, Timeout: r.ListTimeout}
	resp, err := api.Get(ctx, client, r.ListURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("reading proxy list: %w", err)
	}
	return ParseCandidates(string(body)), nil
}

func (r *Resolver) probe(ctx context.Context, candidate string) error {
	client := api.NewHTTPClient(r.Transport, &models.Proxy{Address: candidate}, r.ProbeTimeout)
	defer client.CloseIdleConnections()

	resp, err := api.Get(ctx, client, r.ProbeURL, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// ParseCandidates splits a newline-delimited proxy list, dropping blank
// lines and duplicates while keeping the original order.
func ParseCandidates(body string) []string {
	seen := make(map[string]struct{})
	var candidates []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		candidates = append(candidates, line)
	}
	return candidates
}
