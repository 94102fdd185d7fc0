package render

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// PageState tracks one tab through its render flow.
type PageState int32

const (
	PageCreated PageState = iota
	PageConfiguring
	PageNavigating
	PageWaiting
	PageAutomation
	PageExtracting
	PageClosed
)

func (s PageState) String() string {
	switch s {
	case PageConfiguring:
		return "configuring"
	case PageNavigating:
		return "navigating"
	case PageWaiting:
		return "waiting"
	case PageAutomation:
		return "automation"
	case PageExtracting:
		return "extracting"
	case PageClosed:
		return "closed"
	default:
		return "created"
	}
}

// Viewport describes the emulated device metrics for a page.
type Viewport struct {
	Width       int64
	Height      int64
	ScaleFactor float64
	Mobile      bool
	Landscape   bool
	Touch       bool
}

// PageConfig is the per-page slice of the session configuration.
type PageConfig struct {
	UserAgent         string
	Viewport          *Viewport
	TimezoneID        string
	Locale            string
	Wait              WaitConditions
	NavigationTimeout time.Duration
	CacheEnabled      bool
	Intercept         bool
	Screenshots       ScreenshotDefaults
	// Steps and RawScript are the automation bound to this page's URL.
	Steps     []Step
	RawScript string
}

// Page is one tab inside a BrowserSession.
type Page struct {
	session *BrowserSession
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     PageConfig
	logger  *zap.Logger

	url   string
	state atomic.Int32
}

func newPage(session *BrowserSession, ctx context.Context, cancel context.CancelFunc, cfg PageConfig, logger *zap.Logger) *Page {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Page{
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger,
	}
}

// State reports the page's position in the render flow.
func (p *Page) State() PageState {
	return PageState(p.state.Load())
}

func (p *Page) setState(st PageState) {
	p.state.Store(int32(st))
}

// Close releases the tab. Idempotent.
func (p *Page) Close() {
	p.setState(PageClosed)
	p.cancel()
}

// Run drives the full flow for one URL: configure, navigate, wait, automate,
// extract. Configuration and wait failures are non-fatal; navigation and
// extraction failures are returned and become failure records upstream.
func (p *Page) Run(ctx context.Context, rawURL string) (Result, error) {
	p.url = rawURL
	start := time.Now()

	meta := newDocMeta()
	chromedp.ListenTarget(p.ctx, meta.observe)

	p.setState(PageConfiguring)
	p.configure(ctx)

	p.setState(PageNavigating)
	if err := p.navigate(ctx, rawURL); err != nil {
		return Result{}, p.asPageError("navigate", rawURL, err)
	}

	p.setState(PageWaiting)
	p.await(ctx, p.cfg.Wait)

	p.setState(PageAutomation)
	if p.cfg.RawScript != "" {
		p.runScript(ctx, []Step{Evaluate(p.cfg.RawScript)})
	}
	if len(p.cfg.Steps) > 0 {
		p.runScript(ctx, p.cfg.Steps)
	}

	p.setState(PageExtracting)
	var (
		html     string
		location string
	)
	extractCtx, cancel := context.WithTimeout(p.ctx, 15*time.Second)
	defer cancel()
	err := chromedp.Run(extractCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Result{}, p.asPageError("extract", rawURL, err)
	}

	status, headers, finalURL := meta.resolve(rawURL, location)
	return Result{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Rendered:   true,
		Duration:   time.Since(start),
	}, nil
}

// asPageError maps a tab failure to ErrSessionClosed when the underlying
// session died, so callers see the lifecycle error rather than a raw
// protocol one.
func (p *Page) asPageError(op, rawURL string, err error) error {
	if p.session != nil && p.session.State() == StateClosed {
		return fmt.Errorf("%s %s: %w", op, rawURL, ErrSessionClosed)
	}
	return fmt.Errorf("%s %s: %w", op, rawURL, err)
}

// configure applies the emulation dimensions. Each dimension fails
// independently; a failed override is logged and rendering continues.
func (p *Page) configure(ctx context.Context) {
	p.applyNonFatal(ctx, "protocol domains", p.domainSetup())
	if p.cfg.Viewport != nil {
		p.applyNonFatal(ctx, "viewport", p.viewportActions()...)
	}
	if p.cfg.TimezoneID != "" {
		p.applyNonFatal(ctx, "timezone", emulation.SetTimezoneOverride(p.cfg.TimezoneID))
	}
	if p.cfg.Locale != "" {
		p.applyNonFatal(ctx, "locale", emulation.SetLocaleOverride().WithLocale(p.cfg.Locale))
	}
}

func (p *Page) applyNonFatal(ctx context.Context, dimension string, actions ...chromedp.Action) {
	applyCtx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(applyCtx, actions...); err != nil {
		p.logger.Warn("page configuration dimension failed",
			zap.String("dimension", dimension),
			zap.Error(err))
	}
}

// domainSetup enables the protocol domains the flow depends on and applies
// the transport-level toggles.
func (p *Page) domainSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := cdppage.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if !p.cfg.CacheEnabled {
			if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
				return fmt.Errorf("disable cache: %w", err)
			}
		}
		if p.cfg.Intercept {
			if err := p.enableInterception(ctx); err != nil {
				return fmt.Errorf("enable interception: %w", err)
			}
		}
		return nil
	})
}

// enableInterception turns on the fetch domain and resumes every paused
// request. The listener is the hook point for request filtering.
func (p *Page) enableInterception(ctx context.Context) error {
	if err := fetch.Enable().Do(ctx); err != nil {
		return err
	}
	c := chromedp.FromContext(p.ctx)
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			exec := cdp.WithExecutor(p.ctx, c.Target)
			if err := fetch.ContinueRequest(paused.RequestID).Do(exec); err != nil {
				p.logger.Debug("continue intercepted request failed", zap.Error(err))
			}
		}()
	})
	return nil
}

func (p *Page) viewportActions() []chromedp.Action {
	v := p.cfg.Viewport
	scale := v.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	metrics := emulation.SetDeviceMetricsOverride(v.Width, v.Height, scale, v.Mobile)
	if v.Landscape {
		metrics = metrics.WithScreenOrientation(&emulation.ScreenOrientation{
			Type:  emulation.OrientationTypeLandscapePrimary,
			Angle: 90,
		})
	}
	return []chromedp.Action{
		metrics,
		emulation.SetTouchEmulationEnabled(v.Touch),
	}
}

// navigate drives the browser to rawURL under the navigation timeout.
func (p *Page) navigate(ctx context.Context, rawURL string) error {
	navCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	return nil
}

// docMeta records the status, headers, and URL of the main document
// response as protocol events arrive.
type docMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func newDocMeta() *docMeta {
	return &docMeta{headers: http.Header{}}
}

func (m *docMeta) observe(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, item := range v {
				headers.Add(key, fmt.Sprint(item))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// resolve returns the captured metadata, falling back to the browser's
// reported location and then the requested URL when no document response
// was observed.
func (m *docMeta) resolve(requestURL, location string) (int, http.Header, string) {
	m.mu.Lock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.Unlock()

	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
