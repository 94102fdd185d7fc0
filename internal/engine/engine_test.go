package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/internal/broadcast"
	"github.com/arachnid-go/arachne/internal/frontier"
	"github.com/arachnid-go/arachne/internal/render"
	"github.com/arachnid-go/arachne/pkg/types"
)

// leafSite serves a seed page linking to n leaf pages with no further links.
func leafSite(n int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, `<a href="/page/%d">page %d</a>`, i, i)
		}
		b.WriteString("</body></html>")
		_, _ = w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>leaf</body></html>"))
	})
	return mux
}

func newFetcher(t *testing.T) render.Renderer {
	t.Helper()
	fetcher, err := render.NewFetcher(render.FetchConfig{UserAgent: "arachne-test"}, zap.NewNop())
	require.NoError(t, err)
	return fetcher
}

func drain(t *testing.T, sub *broadcast.Subscription) []types.PageRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var recs []types.PageRecord
	for {
		rec, err := sub.Recv(ctx)
		if errors.Is(err, broadcast.ErrHubClosed) {
			return recs
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
}

func TestCrawlVisitsSiteAndTerminates(t *testing.T) {
	srv := httptest.NewServer(leafSite(10))
	defer srv.Close()

	session, err := New(Options{Seed: srv.URL, Concurrency: 4}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	sub := session.Subscribe(64)

	require.NoError(t, session.Crawl(context.Background()))

	recs := drain(t, sub)
	require.Len(t, recs, 11, "seed plus ten leaves")
	require.Equal(t, 11, session.Visited())
	seen := make(map[string]struct{})
	for _, rec := range recs {
		require.True(t, rec.OK())
		require.Equal(t, http.StatusOK, rec.StatusCode)
		_, dup := seen[rec.URL]
		require.False(t, dup, "each URL produces exactly one record")
		seen[rec.URL] = struct{}{}
	}
}

func TestCrawlHonorsPageLimit(t *testing.T) {
	srv := httptest.NewServer(leafSite(100))
	defer srv.Close()

	session, err := New(Options{
		Seed:        srv.URL,
		Concurrency: 8,
		Limits:      frontier.Limits{MaxPages: 5},
	}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	sub := session.Subscribe(64)

	require.NoError(t, session.Crawl(context.Background()))

	require.Equal(t, 5, session.Visited())
	require.Len(t, drain(t, sub), 5)
	require.Len(t, session.VisitedLinks(), 5)
}

func TestCrawlFansOutToAllSubscribers(t *testing.T) {
	srv := httptest.NewServer(leafSite(2))
	defer srv.Close()

	session, err := New(Options{Seed: srv.URL, Concurrency: 2}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	subs := []*broadcast.Subscription{
		session.Subscribe(16),
		session.Subscribe(16),
		session.Subscribe(16),
	}

	require.NoError(t, session.Crawl(context.Background()))

	urls := func(recs []types.PageRecord) map[string]struct{} {
		set := make(map[string]struct{}, len(recs))
		for _, rec := range recs {
			set[rec.URL] = struct{}{}
		}
		return set
	}
	first := urls(drain(t, subs[0]))
	require.Len(t, first, 3)
	require.Equal(t, first, urls(drain(t, subs[1])))
	require.Equal(t, first, urls(drain(t, subs[2])))
}

func TestCrawlRecordsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(leafSite(0))
	seed := srv.URL
	srv.Close() // nothing listens anymore

	session, err := New(Options{Seed: seed, Concurrency: 1}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	sub := session.Subscribe(4)

	require.NoError(t, session.Crawl(context.Background()))

	recs := drain(t, sub)
	require.Len(t, recs, 1)
	require.False(t, recs[0].OK())
	require.NotEmpty(t, recs[0].Failure)
	require.NotEmpty(t, recs[0].Error)
	require.Empty(t, recs[0].Links)
}

// brokenHeadless stands in for a headless backend whose browser is gone.
type brokenHeadless struct{}

func (brokenHeadless) Render(context.Context, string) (render.Result, error) {
	return render.Result{}, render.ErrBackendUnavailable
}
func (brokenHeadless) Headless() bool { return true }

func (brokenHeadless) Close(context.Context) error { return nil }

func TestCrawlRecordsHeadlessBackendFailure(t *testing.T) {
	session, err := New(Options{Seed: "https://example.org", Concurrency: 1},
		brokenHeadless{}, zap.NewNop())
	require.NoError(t, err)
	sub := session.Subscribe(4)

	require.NoError(t, session.Crawl(context.Background()))

	recs := drain(t, sub)
	require.Len(t, recs, 1)
	require.Equal(t, types.FailureBackend, recs[0].Failure)
	require.False(t, recs[0].Rendered)
}

func TestCrawlRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/open">open</a><a href="/blocked">blocked</a></body></html>`))
	})
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>open</body></html>"))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		t.Error("blocked path was fetched")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session, err := New(Options{
		Seed:          srv.URL,
		Concurrency:   2,
		RespectRobots: true,
		UserAgent:     "arachne-test",
	}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	sub := session.Subscribe(16)

	require.NoError(t, session.Crawl(context.Background()))

	for _, rec := range drain(t, sub) {
		require.NotEqual(t, srv.URL+"/blocked", rec.URL, "disallowed page produces no record")
	}
}

func TestCrawlCancellationStopsDispatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		// Paths stay rooted so every generated link resolves in scope.
		base := strings.TrimSuffix(r.URL.Path, "/")
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := 0; i < 50; i++ {
			fmt.Fprintf(&b, `<a href="%s/n/%d">n</a>`, base, i)
		}
		b.WriteString("</body></html>")
		_, _ = w.Write([]byte(b.String()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session, err := New(Options{Seed: srv.URL, Concurrency: 2}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = session.Crawl(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Seed: "https://example.org"}, nil, zap.NewNop())
	require.Error(t, err, "renderer is required")

	fetcher := newFetcher(t)
	for _, seed := range []string{"", "not a url", "ftp://example.org", "https://"} {
		_, err := New(Options{Seed: seed}, fetcher, zap.NewNop())
		require.Error(t, err, "seed %q", seed)
	}
}

func TestCrawlRunsOnce(t *testing.T) {
	srv := httptest.NewServer(leafSite(0))
	defer srv.Close()

	session, err := New(Options{Seed: srv.URL}, newFetcher(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, session.Crawl(context.Background()))
	require.Error(t, session.Crawl(context.Background()))
}

func TestClassifyFailure(t *testing.T) {
	t.Parallel()

	require.Equal(t, types.FailureBackend,
		classifyFailure(fmt.Errorf("acquire: %w", render.ErrBackendUnavailable)))
	require.Equal(t, types.FailureBackend,
		classifyFailure(fmt.Errorf("tab: %w", render.ErrSessionClosed)))
	require.Equal(t, types.FailureTimeout,
		classifyFailure(fmt.Errorf("navigate: %w", context.DeadlineExceeded)))
	require.Equal(t, types.FailureNavigation,
		classifyFailure(fmt.Errorf("run: %w", render.ErrNavigation)))
	require.Equal(t, types.FailureNetwork, classifyFailure(errors.New("connection refused")))
}
