package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.org", SanitizeSite("https://Example.org/path?q=1"))
	require.Equal(t, "example.org", SanitizeSite("example.org"))
	require.Equal(t, "unknown", SanitizeSite("://bad"))
}

func TestObserversAreSafeBeforeAndAfterInit(t *testing.T) {
	// Before Init all helpers are no-ops.
	ObservePage("https://example.org", "ok", "plain", time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
	SetFrontierPending(3)
	ObserveBroadcastDrop()

	Init()
	Init() // idempotent

	ObservePage("https://example.org", "ok", "plain", time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
	SetFrontierPending(3)
	ObserveBroadcastDrop()
	require.NotNil(t, Handler())
}
