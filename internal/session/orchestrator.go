package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-booru-download/internal/downloader"
	"go-booru-download/internal/helpers"
	"go-booru-download/internal/models"
	"go-booru-download/internal/workerpool"

	log "github.com/sirupsen/logrus"
)

var (
	ErrBusy       = errors.New("a session is already running")
	ErrNoResolver = errors.New("no proxy resolver configured")
)

// ProxyResolver finds a working proxy.
type ProxyResolver interface {
	Resolve(ctx context.Context) (*models.Proxy, error)
}

// URLSource counts matches for a tag expression and lists their file URLs.
type URLSource interface {
	CountPosts(ctx context.Context, expr string) (int, error)
	CollectURLs(ctx context.Context, expr string, total int) ([]string, error)
}

// FileFetcher downloads a single URL into a directory.
type FileFetcher interface {
	Download(ctx context.Context, url, destDir string) models.DownloadOutcome
}

// Services builds the collaborators of a session. NewIndex and NewFetcher
// are called once per run with the proxy active for that run.
type Services struct {
	Resolver   ProxyResolver
	NewIndex   func(proxy *models.Proxy) URLSource
	NewFetcher func(proxy *models.Proxy) FileFetcher
}

// Options tunes an Orchestrator.
type Options struct {
	Concurrency int
	Events      chan<- Event // optional
}

// Request describes one run.
type Request struct {
	Query        models.TagQuery
	Destination  string
	ResolveProxy bool
}

// Orchestrator runs sessions one at a time on a shared worker pool and
// holds the proxy used by them.
type Orchestrator struct {
	services Services
	events   chan<- Event
	pool     *workerpool.Pool
	cancel   context.CancelFunc

	mu    sync.Mutex
	proxy *models.Proxy

	running atomic.Bool
}

// New creates an Orchestrator and starts its worker pool.
func New(services Services, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		services: services,
		events:   opts.Events,
		pool:     workerpool.New(ctx, opts.Concurrency),
		cancel:   cancel,
	}
}

// Close waits for queued work and stops the worker pool.
func (o *Orchestrator) Close() {
	o.pool.Close()
	o.cancel()
}

// Proxy returns the active proxy, nil for a direct connection.
func (o *Orchestrator) Proxy() *models.Proxy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.proxy
}

// SetProxy replaces the active proxy.
func (o *Orchestrator) SetProxy(p *models.Proxy) {
	o.mu.Lock()
	o.proxy = p
	o.mu.Unlock()
	log.Infof("Active proxy: %s", p)
}

// ClearProxy switches back to direct connections.
func (o *Orchestrator) ClearProxy() {
	o.SetProxy(nil)
}

// FindProxy runs the resolver on the pool and, on success, makes the
// result the active proxy.
func (o *Orchestrator) FindProxy(ctx context.Context) (*models.Proxy, error) {
	if o.services.Resolver == nil {
		return nil, ErrNoResolver
	}
	p, err := runTask(ctx, o.pool, o.services.Resolver.Resolve)
	if err != nil {
		return nil, err
	}
	o.SetProxy(p)
	return p, nil
}

// Run executes one session: optional proxy resolution, counting,
// pagination and parallel downloads. Failures before the download phase
// leave the session in StateError; once downloading, the session completes
// when every job has reported, whatever the individual outcomes.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Session, error) {
	s := newSession(req)

	if err := req.Query.Validate(); err != nil {
		log.WithError(err).Error("Invalid search")
		return s, err
	}
	if !o.running.CompareAndSwap(false, true) {
		return s, ErrBusy
	}
	defer o.running.Store(false)

	s.StartedAt = time.Now()
	log.Infof("Session %s started for %q", s.ID, s.Expression)

	if req.ResolveProxy {
		o.transition(ctx, s, models.StateResolving)
		if _, err := o.FindProxy(ctx); err != nil {
			return s, o.fail(ctx, s, fmt.Errorf("resolving proxy: %w", err))
		}
	}
	s.Proxy = o.Proxy()

	index := o.services.NewIndex(s.Proxy)

	o.transition(ctx, s, models.StateCounting)
	total, err := runTask(ctx, o.pool, func(ctx context.Context) (int, error) {
		return index.CountPosts(ctx, s.Expression)
	})
	if err != nil {
		return s, o.fail(ctx, s, fmt.Errorf("counting posts: %w", err))
	}
	log.Infof("Found %d posts", total)
	if total == 0 {
		o.complete(ctx, s)
		return s, nil
	}

	o.transition(ctx, s, models.StatePaginating)
	urls, err := runTask(ctx, o.pool, func(ctx context.Context) ([]string, error) {
		return index.CollectURLs(ctx, s.Expression, total)
	})
	if err != nil {
		return s, o.fail(ctx, s, fmt.Errorf("collecting URLs: %w", err))
	}
	if len(urls) == 0 {
		o.complete(ctx, s)
		return s, nil
	}

	if !helpers.CheckAndMakeDir(s.Destination) {
		return s, o.fail(ctx, s, fmt.Errorf("%w: cannot create destination directory %s", downloader.ErrFileSystem, s.Destination))
	}

	s.Progress = models.SessionProgress{Total: len(urls)}
	o.transition(ctx, s, models.StateDownloading)
	o.download(ctx, s, urls)

	if ctx.Err() != nil {
		log.Warnf("Session %s cancelled; %d of %d downloads failed", s.ID, s.Progress.Failed, s.Progress.Total)
	}
	o.complete(ctx, s)
	return s, nil
}

// download dispatches one pool task per URL and collects every outcome.
func (o *Orchestrator) download(ctx context.Context, s *Session, urls []string) {
	fetcher := o.services.NewFetcher(s.Proxy)
	outcomes := make(chan models.DownloadOutcome, len(urls))

	go func() {
		for _, u := range urls {
			u := u
			err := o.pool.Submit(func(context.Context) {
				// Every job reports, even when the fetcher panics.
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("Download of %s panicked: %v", u, r)
						outcomes <- failedOutcome(u, fmt.Errorf("download panicked: %v", r))
					}
				}()
				if err := ctx.Err(); err != nil {
					outcomes <- failedOutcome(u, err)
					return
				}
				outcomes <- fetcher.Download(ctx, u, s.Destination)
			})
			if err != nil {
				outcomes <- failedOutcome(u, err)
			}
		}
	}()

	for !s.Progress.Done() {
		outcome := <-outcomes
		s.Progress.Record(outcome.Status)
		s.Outcomes = append(s.Outcomes, outcome)
		logOutcome(s.Progress, outcome)

		o.emit(ctx, Event{Type: EventOutcome, SessionID: s.ID, State: s.State, Progress: s.Progress, Outcome: &outcome})
		o.emit(ctx, Event{Type: EventProgress, SessionID: s.ID, State: s.State, Progress: s.Progress})
	}
}

func failedOutcome(url string, err error) models.DownloadOutcome {
	return models.DownloadOutcome{
		Job:    models.DownloadJob{URL: url},
		Status: models.StatusFailed,
		Err:    err,
	}
}

func logOutcome(p models.SessionProgress, outcome models.DownloadOutcome) {
	prefix := fmt.Sprintf("[%d/%d]", p.Completed, p.Total)
	switch outcome.Status {
	case models.StatusCompleted:
		log.Infof("%s Downloaded %s (%s)", prefix, outcome.Job.Destination, helpers.BytesToSize(uint64(outcome.Bytes)))
	case models.StatusSkipped:
		log.Infof("%s Skipped existing %s", prefix, outcome.Job.Destination)
	default:
		log.WithError(outcome.Err).Errorf("%s Failed to download %s", prefix, outcome.Job.URL)
	}
}

func (o *Orchestrator) transition(ctx context.Context, s *Session, state models.SessionState) {
	log.Debugf("Session %s: %s -> %s", s.ID, s.State, state)
	s.State = state
	o.emit(ctx, Event{Type: EventState, SessionID: s.ID, State: state, Progress: s.Progress})
}

func (o *Orchestrator) complete(ctx context.Context, s *Session) {
	s.FinishedAt = time.Now()
	o.transition(ctx, s, models.StateComplete)
	log.Infof("Session %s complete: %d downloaded, %d skipped, %d failed in %s",
		s.ID, s.Progress.Downloaded, s.Progress.Skipped, s.Progress.Failed, s.Elapsed().Round(time.Millisecond))
}

func (o *Orchestrator) fail(ctx context.Context, s *Session, err error) error {
	s.Err = err
	s.FinishedAt = time.Now()
	log.WithError(err).Errorf("Session %s aborted during %s", s.ID, s.State)
	s.State = models.StateError
	o.emit(ctx, Event{Type: EventState, SessionID: s.ID, State: models.StateError, Progress: s.Progress, Err: err})
	return err
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if o.events == nil {
		return
	}
	select {
	case o.events <- ev:
	case <-ctx.Done():
	}
}

// runTask runs fn as a single pool task and waits for its result.
func runTask[T any](ctx context.Context, pool *workerpool.Pool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T

	done := make(chan result, 1)
	if err := pool.Submit(func(context.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Task panicked: %v", r)
				done <- result{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
