package visited

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternCaseInsensitive(t *testing.T) {
	store := NewStore()
	a, seen := store.InternAndCheck("HTTP://Example.com/A")
	require.False(t, seen)
	b, seen := store.InternAndCheck("http://example.com/a")
	require.False(t, seen)
	require.Equal(t, a, b, "case-insensitive equal URLs must share a symbol")

	c, _ := store.InternAndCheck("http://example.com/b")
	require.NotEqual(t, a, c)
}

func TestMarkVisitedSingleWinner(t *testing.T) {
	store := NewStore()
	sym, _ := store.InternAndCheck("https://example.org/page")

	const workers = 32
	wins := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- store.MarkVisited(sym)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	require.Equal(t, 1, won, "exactly one worker wins the claim")
	require.Equal(t, 1, store.Len())
}

func TestConcurrentInternSameURL(t *testing.T) {
	store := NewStore()
	const workers = 16
	syms := make(chan Symbol, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sym, _ := store.InternAndCheck("https://example.org/shared")
			syms <- sym
		}()
	}
	wg.Wait()
	close(syms)

	var first Symbol
	got := false
	for sym := range syms {
		if !got {
			first = sym
			got = true
			continue
		}
		require.Equal(t, first, sym)
	}
}

func TestResolvePreservesFirstSpelling(t *testing.T) {
	store := NewStore()
	sym, _ := store.InternAndCheck("HTTP://Example.com/Path")
	store.InternAndCheck("http://example.com/path")

	text, ok := store.Resolve(sym)
	require.True(t, ok)
	require.Equal(t, "HTTP://Example.com/Path", text)
}

func TestContainsRequiresMark(t *testing.T) {
	store := NewStore()
	sym, seen := store.InternAndCheck("https://example.org/")
	require.False(t, seen)
	require.False(t, store.Contains("https://example.org/"), "interning alone does not mark visited")

	require.True(t, store.MarkVisited(sym))
	require.True(t, store.Contains("https://EXAMPLE.org/"))
}

func TestDrainAndClear(t *testing.T) {
	store := NewStore()
	for i := 0; i < 5; i++ {
		sym, _ := store.InternAndCheck(fmt.Sprintf("https://example.org/%d", i))
		store.MarkVisited(sym)
	}
	require.Equal(t, 5, store.Len())

	drained := store.Drain()
	require.Len(t, drained, 5)
	require.Equal(t, 0, store.Len())

	// Symbols drained remain resolvable until Clear.
	for _, sym := range drained {
		_, ok := store.Resolve(sym)
		require.True(t, ok)
	}

	store.Clear()
	_, ok := store.Resolve(drained[0])
	require.False(t, ok)
}

func TestLinksMaterialization(t *testing.T) {
	store := NewStore()
	urls := []string{"https://a.example/", "https://b.example/", "https://c.example/"}
	for _, u := range urls {
		sym, _ := store.InternAndCheck(u)
		store.MarkVisited(sym)
	}
	// Interned but never visited URLs are excluded.
	store.InternAndCheck("https://d.example/")

	require.ElementsMatch(t, urls, store.Links())
}
