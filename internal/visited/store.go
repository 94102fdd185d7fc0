// Package visited implements the interned visited-URL store. URLs are
// compared case-insensitively and stored once as small integer symbols, so a
// frontier holding millions of entries pays for each distinct URL string a
// single time and membership tests reduce to integer lookups.
package visited

import (
	"strings"
	"sync"
)

// Symbol is the process-local integer identity assigned to an interned URL.
// Symbols are never reused for different strings within one Store, and they
// are not portable across independently constructed stores.
type Symbol uint32

// Store interns URL text and tracks which symbols have been visited. All
// methods are safe for concurrent use; each method is the atomic unit, so
// callers never need to compose two calls under their own lock.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]Symbol
	texts   []string
	visited map[Symbol]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		symbols: make(map[string]Symbol),
		visited: make(map[Symbol]struct{}),
	}
}

// InternAndCheck interns the case-insensitive text of rawURL and reports
// whether that symbol is already marked visited. It does not mark the symbol:
// the caller decides whether to proceed after policy checks, so URLs whose
// visit is skipped for other reasons are never burned.
func (s *Store) InternAndCheck(rawURL string) (Symbol, bool) {
	key := strings.ToLower(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[key]
	if !ok {
		sym = Symbol(len(s.texts))
		s.symbols[key] = sym
		// First spelling wins for display purposes.
		s.texts = append(s.texts, rawURL)
	}
	_, seen := s.visited[sym]
	return sym, seen
}

// MarkVisited adds sym to the visited set. It is idempotent and returns true
// only for the first caller; under a concurrent race exactly one worker wins
// the claim and every loser must discard its duplicate work.
func (s *Store) MarkVisited(sym Symbol) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.visited[sym]; seen {
		return false
	}
	s.visited[sym] = struct{}{}
	return true
}

// Contains reports whether rawURL (case-insensitive) is marked visited.
func (s *Store) Contains(rawURL string) bool {
	key := strings.ToLower(rawURL)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.symbols[key]
	if !ok {
		return false
	}
	_, seen := s.visited[sym]
	return seen
}

// Len returns the number of visited symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visited)
}

// Resolve returns the original URL text for sym.
func (s *Store) Resolve(sym Symbol) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(sym) >= len(s.texts) {
		return "", false
	}
	return s.texts[sym], true
}

// Drain removes and returns all visited symbols, used for snapshotting
// between incremental re-crawls. The interner is retained so the symbols
// remain resolvable.
func (s *Store) Drain() []Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Symbol, 0, len(s.visited))
	for sym := range s.visited {
		out = append(out, sym)
	}
	s.visited = make(map[Symbol]struct{})
	return out
}

// Clear resets the visited set and the interner.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]Symbol)
	s.texts = nil
	s.visited = make(map[Symbol]struct{})
}

// Links materializes the visited set back into URL strings, preserving the
// casing of the first interned spelling.
func (s *Store) Links() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.visited))
	for sym := range s.visited {
		if int(sym) < len(s.texts) {
			out = append(out, s.texts[sym])
		}
	}
	return out
}
