package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests drive a real browser. They are skipped unless BROWSER_TESTS is
// set; CHROME_BIN selects the executable when Chrome is not on PATH.
func requireBrowser(t *testing.T) {
	t.Helper()
	if os.Getenv("BROWSER_TESTS") == "" {
		t.Skip("set BROWSER_TESTS=1 to run browser-backed tests")
	}
}

func TestAutomationScriptSurvivesFailingSteps(t *testing.T) {
	requireBrowser(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>start</title></head><body><p>hi</p></body></html>`))
	}))
	defer srv.Close()

	renderer := NewHeadless(HeadlessConfig{
		Browser:        BrowserConfig{ExecPath: os.Getenv("CHROME_BIN")},
		RequestTimeout: 20 * time.Second,
		AutomationScripts: map[string][]Step{
			srv.URL: {
				Click("#missing"), // no match, must be a no-op
				Wait(100),
				Evaluate(`document.title = "done"`),
			},
		},
	}, zap.NewNop())
	defer func() { _ = renderer.Close(context.Background()) }()

	result, err := renderer.Render(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, string(result.Body), "<title>done</title>",
		"the script ran to the last step despite the failing click")
}

func TestSelectorWaitTimeoutIsNonFatal(t *testing.T) {
	requireBrowser(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>content</p></body></html>`))
	}))
	defer srv.Close()

	renderer := NewHeadless(HeadlessConfig{
		Browser:        BrowserConfig{ExecPath: os.Getenv("CHROME_BIN")},
		RequestTimeout: 20 * time.Second,
		Wait: WaitConditions{
			Selector: &WaitForSelector{Selector: "#never-appears", Timeout: time.Second},
		},
	}, zap.NewNop())
	defer func() { _ = renderer.Close(context.Background()) }()

	start := time.Now()
	result, err := renderer.Render(context.Background(), srv.URL)
	require.NoError(t, err, "a timed-out wait still yields a page")
	require.GreaterOrEqual(t, time.Since(start), time.Second)
	require.Contains(t, string(result.Body), "content")
}

func TestRemoteAttachFailureIsBackendUnavailable(t *testing.T) {
	requireBrowser(t)

	renderer := NewHeadless(HeadlessConfig{
		Browser: BrowserConfig{RemoteURL: "ws://127.0.0.1:1/devtools/browser"},
	}, zap.NewNop())

	_, err := renderer.Render(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ErrBackendUnavailable)

	// The failure is sticky: no fallback to a local launch.
	_, err = renderer.Render(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}
