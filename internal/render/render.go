// Package render turns URLs into page payloads. Two backends implement the
// same contract: a plain HTTP fetcher built on colly and a headless Chrome
// backend built on chromedp.
package render

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrBackendUnavailable means the render backend could not be acquired, for
// example the remote debugging endpoint refused the connection or the local
// browser failed to launch. There is no fallback between backends.
var ErrBackendUnavailable = errors.New("render backend unavailable")

// ErrSessionClosed means the browser session died or was closed; page handles
// created from it fail their next operation with this error.
var ErrSessionClosed = errors.New("browser session closed")

// ErrNavigation wraps failures to drive the browser to the requested URL.
var ErrNavigation = errors.New("navigation failed")

// Result is the payload of one rendered or fetched page.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Rendered   bool
	Duration   time.Duration
}

// Renderer fetches one URL per call. Implementations are safe for concurrent
// use; the engine bounds concurrency. Headless identifies the backend so
// failed fetches, which carry no Result, can still be attributed to it.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Result, error)
	Headless() bool
	Close(ctx context.Context) error
}
