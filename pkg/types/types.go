// Package types defines the records exchanged between the crawl engine and
// its consumers.
package types

import (
	"net/http"
	"time"
)

// FailureKind classifies recoverable page-level failures recorded on a
// PageRecord. Failures never abort the crawl session.
type FailureKind string

// Supported failure kinds.
const (
	FailureNone       FailureKind = ""
	FailureNetwork    FailureKind = "network"
	FailureTimeout    FailureKind = "timeout"
	FailureNavigation FailureKind = "navigation"
	FailureBackend    FailureKind = "backend_unavailable"
)

// PageRecord is the completed result for one crawled URL. Records stream to
// subscribers in publish order; a failed fetch still produces a record with
// Failure set and no discovered links.
type PageRecord struct {
	// SessionID identifies the crawl run that produced this record.
	SessionID string `json:"session_id"`
	// URL is the URL as it was dispatched from the frontier.
	URL string `json:"url"`
	// FinalURL is the post-redirect location, when known.
	FinalURL string `json:"final_url,omitempty"`
	// Depth is the link distance from the seed.
	Depth int `json:"depth"`
	// StatusCode is the HTTP status of the document response, 0 on failure.
	StatusCode int `json:"status_code"`
	// Headers holds the document response headers, when captured.
	Headers http.Header `json:"headers,omitempty"`
	// Body is the raw (or rendered) document markup.
	Body []byte `json:"-"`
	// Rendered reports whether a headless browser produced the body.
	Rendered bool `json:"rendered"`
	// Links are the candidate URLs discovered on the page.
	Links []string `json:"links,omitempty"`
	// Failure classifies a recoverable failure, empty on success.
	Failure FailureKind `json:"failure,omitempty"`
	// Error carries the failure detail text, empty on success.
	Error string `json:"error,omitempty"`
	// FetchedAt is the UTC completion timestamp.
	FetchedAt time.Time `json:"fetched_at"`
	// Duration is the wall time spent fetching or rendering.
	Duration time.Duration `json:"duration_ms"`
}

// OK reports whether the page completed without a recorded failure.
func (r PageRecord) OK() bool {
	return r.Failure == FailureNone
}
