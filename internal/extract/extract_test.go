package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestLinksResolvesRelative(t *testing.T) {
	base := mustParse(t, "https://example.org/docs/index.html")
	body := []byte(`<html><body>
		<a href="/about">about</a>
		<a href="guide.html">guide</a>
		<a href="https://other.org/page">external</a>
	</body></html>`)

	links := Links(base, body)
	require.Equal(t, []string{
		"https://example.org/about",
		"https://example.org/docs/guide.html",
		"https://other.org/page",
	}, links)
}

func TestLinksFiltersSchemesAndFragments(t *testing.T) {
	base := mustParse(t, "https://example.org/")
	body := []byte(`<html><body>
		<a href="mailto:a@example.org">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="#section">anchor</a>
		<a href="/page#section">page</a>
	</body></html>`)

	links := Links(base, body)
	require.Equal(t, []string{"https://example.org/page"}, links)
}

func TestLinksDeduplicatesWithinPage(t *testing.T) {
	base := mustParse(t, "https://example.org/")
	body := []byte(`<html><body>
		<a href="/page">one</a>
		<a href="/page">two</a>
		<a href="/page#frag">three</a>
	</body></html>`)

	links := Links(base, body)
	require.Equal(t, []string{"https://example.org/page"}, links)
}

func TestLinksEmptyOnGarbage(t *testing.T) {
	base := mustParse(t, "https://example.org/")
	require.Empty(t, Links(base, []byte{0xff, 0xfe, 0x00}))
	require.Empty(t, Links(base, nil))
}
