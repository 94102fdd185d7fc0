package render

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"go.uber.org/zap"
)

// FetchConfig controls the plain HTTP backend.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
	Proxies   []string
}

// Fetcher renders pages with a bare HTTP GET, no JavaScript execution. Each
// Render clones the base collector so per-request state never leaks between
// concurrent calls.
type Fetcher struct {
	cfg    FetchConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewFetcher builds the plain backend. A configured proxy list is applied
// with colly's round-robin switcher.
func NewFetcher(cfg FetchConfig, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	// Robots compliance is a scheduler policy, not a transport concern.
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// The timeout is fixed for the fetcher's lifetime and must be applied
	// here: clones share the base collector's HTTP backend, so a per-render
	// SetRequestTimeout would race with requests already in flight.
	c.SetRequestTimeout(cfg.Timeout)
	if len(cfg.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxy switcher: %w", err)
		}
		c.SetProxyFunc(switcher)
	}

	return &Fetcher{cfg: cfg, base: c, logger: logger}, nil
}

// Render executes a single GET for rawURL.
func (f *Fetcher) Render(ctx context.Context, rawURL string) (Result, error) {
	var (
		result   Result
		fetchErr error
	)
	start := time.Now()

	collector := f.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		result = Result{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Rendered:   false,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return result, nil
	}
}

// Headless reports the render mode; the plain backend never executes
// JavaScript.
func (f *Fetcher) Headless() bool {
	return false
}

// Close satisfies Renderer; the plain backend holds no long-lived resources.
func (f *Fetcher) Close(context.Context) error {
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
