// Package engine orchestrates a crawl session: it dispatches frontier
// entries to a bounded worker pool, claims URLs through the visited store,
// renders pages, feeds discovered links back to the frontier, and streams
// completed records through the broadcast hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/arachnid-go/arachne/internal/broadcast"
	"github.com/arachnid-go/arachne/internal/extract"
	"github.com/arachnid-go/arachne/internal/frontier"
	"github.com/arachnid-go/arachne/internal/metrics"
	"github.com/arachnid-go/arachne/internal/policy"
	"github.com/arachnid-go/arachne/internal/render"
	"github.com/arachnid-go/arachne/internal/visited"
	"github.com/arachnid-go/arachne/pkg/types"
)

// Options configures one crawl session.
type Options struct {
	// SessionID identifies the run; generated when empty.
	SessionID string
	// Seed is the starting URL and defines the crawl scope.
	Seed string
	UserAgent string
	// Concurrency bounds the number of pages in flight at once.
	Concurrency int
	// Delay paces dispatches; zero disables pacing.
	Delay             time.Duration
	Limits            frontier.Limits
	IncludeSubdomains bool
	RespectRobots     bool
	Blacklist         []string
	Overflow          broadcast.Overflow
}

// Session owns the collaborators of one crawl run. Create with New, run
// once with Crawl.
type Session struct {
	opts     Options
	store    *visited.Store
	frontier *frontier.Frontier
	hub      *broadcast.Hub
	renderer render.Renderer
	robots   policy.Robots
	limiter  *rate.Limiter
	logger   *zap.Logger

	inflight atomic.Int64
	wake     chan struct{}
	started  atomic.Bool

	succeeded atomic.Int64
	failed    atomic.Int64
}

// New validates the seed, derives the scope, and wires the session's
// collaborators. The renderer is owned by the session and closed when the
// crawl ends.
func New(opts Options, renderer render.Renderer, logger *zap.Logger) (*Session, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed, err := url.Parse(opts.Seed)
	if err != nil || seed.Hostname() == "" || (seed.Scheme != "http" && seed.Scheme != "https") {
		return nil, fmt.Errorf("invalid seed url %q", opts.Seed)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	metrics.Init()

	store := visited.NewStore()
	scope := policy.NewScope(seed, opts.IncludeSubdomains)
	blacklist := policy.NewBlacklist(opts.Blacklist)
	sessionLogger := logger.With(zap.String("session_id", opts.SessionID))

	var limiter *rate.Limiter
	if opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	return &Session{
		opts:     opts,
		store:    store,
		frontier: frontier.New(opts.Limits, store, scope, blacklist, sessionLogger),
		hub:      broadcast.NewHub(opts.Overflow, sessionLogger),
		renderer: renderer,
		robots:   policy.NewRobots(opts.RespectRobots, opts.UserAgent, sessionLogger),
		limiter:  limiter,
		logger:   sessionLogger,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Subscribe attaches a record consumer; valid before or during the crawl.
func (s *Session) Subscribe(capacity int) *broadcast.Subscription {
	return s.hub.Subscribe(capacity)
}

// VisitedLinks materializes the visited store.
func (s *Session) VisitedLinks() []string {
	return s.store.Links()
}

// Visited returns the number of URLs claimed this session.
func (s *Session) Visited() int {
	return s.store.Len()
}

// Crawl runs the session to completion: frontier exhaustion with no work in
// flight, or cancellation. Page-level failures become failure records and
// never abort the crawl. Results stream through subscriptions only; Crawl
// returns nothing but the terminal error state.
func (s *Session) Crawl(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("crawl already started")
	}
	start := time.Now()
	defer s.hub.Close()
	defer func() {
		if err := s.renderer.Close(context.Background()); err != nil {
			s.logger.Warn("renderer close failed", zap.Error(err))
		}
	}()

	if !s.frontier.Enqueue(frontier.Entry{URL: s.opts.Seed}) {
		return fmt.Errorf("seed rejected: %s", s.opts.Seed)
	}
	s.logger.Info("crawl started",
		zap.String("seed", s.opts.Seed),
		zap.Int("concurrency", s.opts.Concurrency),
		zap.Int("max_pages", s.opts.Limits.MaxPages),
		zap.Int("max_depth", s.opts.Limits.MaxDepth))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))

	for gctx.Err() == nil {
		entry, ok := s.frontier.Next()
		metrics.SetFrontierPending(s.frontier.Len())
		if !ok {
			if s.inflight.Load() == 0 {
				// Workers enqueue children before decrementing the in-flight
				// count, so a second look at the frontier is enough to catch
				// an entry added between the failed pop and the decrement.
				if s.frontier.Len() == 0 {
					break
				}
				continue
			}
			select {
			case <-s.wake:
			case <-gctx.Done():
			}
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(gctx); err != nil {
				break
			}
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		s.inflight.Add(1)
		e := entry
		g.Go(func() error {
			defer sem.Release(1)
			defer func() {
				s.inflight.Add(-1)
				s.signalWake()
			}()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			s.process(gctx, e)
			return nil
		})
	}

	_ = g.Wait()
	s.logger.Info("crawl finished",
		zap.Int("visited", s.store.Len()),
		zap.Int64("succeeded", s.succeeded.Load()),
		zap.Int64("failed", s.failed.Load()),
		zap.Duration("elapsed", time.Since(start)))
	return ctx.Err()
}

// process handles one frontier entry end to end. Claiming through the
// visited store resolves dispatch races: the loser drops the entry.
func (s *Session) process(ctx context.Context, e frontier.Entry) {
	sym, _ := s.store.InternAndCheck(e.URL)
	if !s.store.MarkVisited(sym) {
		return
	}
	if !s.robots.Allowed(ctx, e.URL) {
		s.logger.Debug("robots disallowed", zap.String("url", e.URL))
		return
	}

	start := time.Now()
	rec := types.PageRecord{
		SessionID: s.opts.SessionID,
		URL:       e.URL,
		Depth:     e.Depth,
		FetchedAt: start.UTC(),
	}

	result, err := s.renderer.Render(ctx, e.URL)
	if err != nil {
		rec.Failure = classifyFailure(err)
		rec.Error = err.Error()
		rec.Duration = time.Since(start)
		s.failed.Add(1)
		metrics.ObservePage(e.URL, "failed", renderMode(s.renderer.Headless()), rec.Duration)
		s.logger.Warn("page failed",
			zap.String("url", e.URL),
			zap.String("failure", string(rec.Failure)),
			zap.Error(err))
		s.hub.Publish(rec)
		return
	}

	rec.FinalURL = result.FinalURL
	rec.StatusCode = result.StatusCode
	rec.Headers = result.Headers
	rec.Body = result.Body
	rec.Rendered = result.Rendered
	rec.Duration = result.Duration
	rec.Links = s.discover(ctx, e, result)

	s.succeeded.Add(1)
	metrics.ObservePage(e.URL, "ok", renderMode(result.Rendered), rec.Duration)
	s.hub.Publish(rec)
}

// discover extracts links from the page and feeds them back to the
// frontier. After cancellation nothing is re-enqueued; unfinished work winds
// down without growing the crawl.
func (s *Session) discover(ctx context.Context, e frontier.Entry, result render.Result) []string {
	baseURL := result.FinalURL
	if baseURL == "" {
		baseURL = e.URL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	links := extract.Links(base, result.Body)
	if ctx.Err() != nil {
		return links
	}
	enqueued := 0
	for _, link := range links {
		if s.frontier.Enqueue(frontier.Entry{URL: link, Depth: e.Depth + 1, Parent: e.URL}) {
			enqueued++
		}
	}
	if enqueued > 0 {
		s.signalWake()
	}
	return links
}

func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func renderMode(rendered bool) string {
	if rendered {
		return "headless"
	}
	return "plain"
}

// classifyFailure maps a render error onto the record failure taxonomy.
func classifyFailure(err error) types.FailureKind {
	var netErr net.Error
	switch {
	case errors.Is(err, render.ErrBackendUnavailable), errors.Is(err, render.ErrSessionClosed):
		return types.FailureBackend
	case errors.Is(err, context.DeadlineExceeded):
		return types.FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.FailureTimeout
	case errors.Is(err, render.ErrNavigation):
		return types.FailureNavigation
	default:
		return types.FailureNetwork
	}
}
