// Package frontier holds the pending crawl candidates and applies the
// admission budgets: page limit, depth limit, domain scope, and blacklist.
package frontier

import (
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/internal/policy"
	"github.com/arachnid-go/arachne/internal/visited"
)

// Entry is a candidate URL awaiting a crawl decision. Parent is retained for
// diagnostics only and implies no ownership.
type Entry struct {
	URL    string
	Depth  int
	Parent string
}

// Limits bounds the crawl. Zero values disable the corresponding limit.
type Limits struct {
	// MaxPages caps the total number of accepted entries for the session.
	MaxPages int
	// MaxDepth rejects entries whose depth exceeds it.
	MaxDepth int
}

// Frontier is a FIFO of admitted entries. Enqueue and Next are individually
// atomic; no caller composes the two into a larger critical section.
type Frontier struct {
	mu       sync.Mutex
	entries  []Entry
	admitted map[visited.Symbol]struct{}
	accepted int

	limits    Limits
	store     *visited.Store
	scope     *policy.Scope
	blacklist *policy.Blacklist
	logger    *zap.Logger
}

// New constructs a Frontier sharing the session's visited store.
func New(limits Limits, store *visited.Store, scope *policy.Scope, blacklist *policy.Blacklist, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		admitted:  make(map[visited.Symbol]struct{}),
		limits:    limits,
		store:     store,
		scope:     scope,
		blacklist: blacklist,
		logger:    logger,
	}
}

// Enqueue admits e if it parses, is in scope, not blacklisted, not already
// visited or admitted, and within the depth and page budgets. A malformed URL is a
// rejection, never a session failure. Returns whether the entry was accepted.
func (f *Frontier) Enqueue(e Entry) bool {
	parsed, err := url.Parse(e.URL)
	if err != nil || parsed.Hostname() == "" {
		f.logger.Debug("rejecting malformed url", zap.String("url", e.URL))
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if f.limits.MaxDepth > 0 && e.Depth > f.limits.MaxDepth {
		return false
	}
	if !f.scope.Allows(parsed.Hostname()) {
		return false
	}
	if f.blacklist.Matches(e.URL) {
		return false
	}
	sym, seen := f.store.InternAndCheck(e.URL)
	if seen {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.admitted[sym]; dup {
		return false
	}
	if f.limits.MaxPages > 0 && f.accepted >= f.limits.MaxPages {
		return false
	}
	f.admitted[sym] = struct{}{}
	f.accepted++
	f.entries = append(f.entries, e)
	return true
}

// Next pops the oldest pending entry, reporting false when the frontier is
// currently empty. An empty frontier with no in-flight work is the crawl's
// terminal condition; the engine tracks in-flight counts.
func (f *Frontier) Next() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return Entry{}, false
	}
	e := f.entries[0]
	f.entries = f.entries[1:]
	return e, true
}

// Len returns the number of pending entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Accepted returns the total number of entries admitted this session.
func (f *Frontier) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}
