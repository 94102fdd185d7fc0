package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/internal/config"
	"github.com/arachnid-go/arachne/internal/render"
)

func TestApplyFlagOverrides(t *testing.T) {
	t.Parallel()

	cmd := newCrawlCmd()
	require.NoError(t, cmd.Flags().Set("limit", "25"))
	require.NoError(t, cmd.Flags().Set("headless", "true"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	applyFlagOverrides(cmd, &cfg, crawlFlags{limit: 25, headless: true})

	require.Equal(t, 25, cfg.Crawl.MaxPages)
	require.True(t, cfg.Render.Headless)
	// Untouched flags leave config values alone.
	require.Equal(t, 4, cfg.Crawl.Concurrency)
}

func TestBuildRendererSelectsBackend(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	plain, err := buildRenderer(cfg, config.EnvOverrides{}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &render.Fetcher{}, plain)

	cfg.Render.Headless = true
	headless, err := buildRenderer(cfg, config.EnvOverrides{RemoteURL: "ws://localhost:9222"}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &render.HeadlessRenderer{}, headless)
}
