package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// SessionState tracks the browser session lifecycle. Transitions only move
// forward; a closed session is never reopened.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateConnecting
	StateLaunching
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// BrowserConfig controls how the session attaches to Chrome.
type BrowserConfig struct {
	// RemoteURL, when set, is a DevTools websocket endpoint to attach to.
	// Attachment failure is terminal; there is no fallback to a local launch.
	RemoteURL string
	// ExecPath overrides the browser executable for local launches.
	ExecPath  string
	Profile   Profile
	UserAgent string
	Proxies   []string
}

// BrowserSession owns one browser process or remote attachment plus the
// watch goroutine that observes protocol-level failures.
type BrowserSession struct {
	cfg    BrowserConfig
	logger *zap.Logger

	state       atomic.Int32
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	watch       *watchTask
	teardown    sync.Once
}

// NewBrowserSession attaches to a remote browser or launches one locally,
// verifies the protocol connection, and starts the watch task. On any
// failure the returned error wraps ErrBackendUnavailable.
func NewBrowserSession(cfg BrowserConfig, logger *zap.Logger) (*BrowserSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BrowserSession{cfg: cfg, logger: logger}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		s.setState(StateConnecting)
		logger.Info("attaching to remote browser", zap.String("url", cfg.RemoteURL))
		allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		s.setState(StateLaunching)
		logger.Info("launching browser", zap.String("profile", cfg.Profile.String()))
		allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	}

	s.browserCtx, s.cancel = chromedp.NewContext(allocCtx)

	// An empty Run forces the connection or launch now rather than on the
	// first page, so acquisition failures surface here.
	if err := chromedp.Run(s.browserCtx); err != nil {
		s.cancel()
		s.allocCancel()
		s.setState(StateClosed)
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, err)
	}

	s.watch = s.startWatch()
	s.setState(StateReady)
	return s, nil
}

// State reports the current lifecycle state.
func (s *BrowserSession) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *BrowserSession) setState(st SessionState) {
	s.state.Store(int32(st))
}

// NewPage opens a tab in the session. The page inherits the session's
// lifetime; if the session dies, the page's next operation fails instead of
// hanging.
func (s *BrowserSession) NewPage(cfg PageConfig) (*Page, error) {
	if s.State() != StateReady {
		return nil, ErrSessionClosed
	}
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	return newPage(s, tabCtx, cancel, cfg, s.logger), nil
}

// Close stops the watch task and tears the browser down. Safe to call more
// than once.
func (s *BrowserSession) Close(ctx context.Context) error {
	if s.watch != nil {
		s.watch.Stop()
	}
	s.terminate("close requested")
	return nil
}

// terminate performs the one-shot teardown. The session never relaunches; a
// dead browser stays dead for the remainder of the crawl.
func (s *BrowserSession) terminate(reason string) {
	s.teardown.Do(func() {
		s.setState(StateClosed)
		s.logger.Info("browser session closed", zap.String("reason", reason))
		s.cancel()
		s.allocCancel()
	})
}

// watchTask is the owned handle of the watch goroutine.
type watchTask struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startWatch observes browser-level protocol events. The first target crash
// or the end of the event stream closes the session; in-flight page handles
// fail their next operation rather than hanging.
func (s *BrowserSession) startWatch() *watchTask {
	t := &watchTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	failure := make(chan string, 1)
	chromedp.ListenBrowser(s.browserCtx, func(ev interface{}) {
		if crashed, ok := ev.(*target.EventTargetCrashed); ok {
			select {
			case failure <- fmt.Sprintf("target crashed: %s (%d)", crashed.Status, crashed.ErrorCode):
			default:
			}
		}
	})

	go func() {
		defer close(t.done)
		select {
		case <-t.stop:
		case reason := <-failure:
			s.logger.Warn("browser failure observed", zap.String("reason", reason))
			s.terminate(reason)
		case <-s.browserCtx.Done():
			s.terminate("protocol stream ended")
		}
	}()
	return t
}

// Stop signals the watch goroutine and waits for it to exit.
func (t *watchTask) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}
