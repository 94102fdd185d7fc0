package render

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeadlessConfig is the full headless backend configuration.
type HeadlessConfig struct {
	Browser        BrowserConfig
	Viewport       *Viewport
	TimezoneID     string
	Locale         string
	Wait           WaitConditions
	RequestTimeout time.Duration
	CacheEnabled   bool
	Intercept      bool
	Screenshots    ScreenshotDefaults
	// AutomationScripts and ExecutionScripts are keyed by the exact target
	// URL; pages without an entry render without automation.
	AutomationScripts map[string][]Step
	ExecutionScripts  map[string]string
}

// HeadlessRenderer renders pages in a shared browser session. The session is
// created lazily on the first Render; once it dies it is never relaunched,
// and later renders report the stored acquisition error or ErrSessionClosed.
type HeadlessRenderer struct {
	cfg    HeadlessConfig
	logger *zap.Logger

	mu         sync.Mutex
	tried      bool
	session    *BrowserSession
	acquireErr error
}

// NewHeadless builds the headless backend without touching the browser.
func NewHeadless(cfg HeadlessConfig, logger *zap.Logger) *HeadlessRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeadlessRenderer{cfg: cfg, logger: logger}
}

func (r *HeadlessRenderer) acquire() (*BrowserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tried {
		if r.acquireErr != nil {
			return nil, r.acquireErr
		}
		if r.session.State() != StateReady {
			return nil, ErrSessionClosed
		}
		return r.session, nil
	}
	r.tried = true
	session, err := NewBrowserSession(r.cfg.Browser, r.logger)
	if err != nil {
		r.acquireErr = err
		return nil, err
	}
	r.session = session
	return session, nil
}

// SessionState reports the lifecycle state of the underlying session, or
// Uninitialized before the first Render.
func (r *HeadlessRenderer) SessionState() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return StateUninitialized
	}
	return r.session.State()
}

// Render opens a tab, runs the full page flow for rawURL, and closes the
// tab.
func (r *HeadlessRenderer) Render(ctx context.Context, rawURL string) (Result, error) {
	session, err := r.acquire()
	if err != nil {
		return Result{}, err
	}
	page, err := session.NewPage(r.pageConfig(rawURL))
	if err != nil {
		return Result{}, err
	}
	defer page.Close()
	return page.Run(ctx, rawURL)
}

func (r *HeadlessRenderer) pageConfig(rawURL string) PageConfig {
	return PageConfig{
		UserAgent:         r.cfg.Browser.UserAgent,
		Viewport:          r.cfg.Viewport,
		TimezoneID:        r.cfg.TimezoneID,
		Locale:            r.cfg.Locale,
		Wait:              r.cfg.Wait,
		NavigationTimeout: r.cfg.RequestTimeout,
		CacheEnabled:      r.cfg.CacheEnabled,
		Intercept:         r.cfg.Intercept,
		Screenshots:       r.cfg.Screenshots,
		Steps:             r.cfg.AutomationScripts[rawURL],
		RawScript:         r.cfg.ExecutionScripts[rawURL],
	}
}

// Headless reports the render mode.
func (r *HeadlessRenderer) Headless() bool {
	return true
}

// Close tears the session down if one was acquired.
func (r *HeadlessRenderer) Close(ctx context.Context) error {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close(ctx)
}
