package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/internal/broadcast"
	"github.com/arachnid-go/arachne/internal/config"
	"github.com/arachnid-go/arachne/internal/engine"
	"github.com/arachnid-go/arachne/internal/frontier"
	"github.com/arachnid-go/arachne/internal/logging"
	"github.com/arachnid-go/arachne/internal/render"
	"github.com/arachnid-go/arachne/internal/server"
)

type crawlFlags struct {
	limit       int
	depth       int
	concurrency int
	delayMs     int
	subdomains  bool
	headless    bool
	robots      bool
	metricsAddr string
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site from the seed URL and stream page records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], flags)
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum pages to crawl (0 = unlimited)")
	cmd.Flags().IntVar(&flags.depth, "depth", 0, "maximum link depth (0 = unlimited)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "worker pool size")
	cmd.Flags().IntVar(&flags.delayMs, "delay-ms", 0, "delay between dispatches in milliseconds")
	cmd.Flags().BoolVar(&flags.subdomains, "subdomains", false, "crawl subdomains of the seed host")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "render pages in headless Chrome")
	cmd.Flags().BoolVar(&flags.robots, "respect-robots", false, "honor robots.txt")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "ops server listen address")
	return cmd
}

func runCrawl(cmd *cobra.Command, seed string, flags crawlFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg, flags)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	env := config.ResolveEnv()
	renderer, err := buildRenderer(cfg, env, logger)
	if err != nil {
		return err
	}

	session, err := engine.New(engine.Options{
		Seed:              seed,
		UserAgent:         cfg.Crawl.UserAgent,
		Concurrency:       cfg.Crawl.Concurrency,
		Delay:             cfg.Delay(),
		Limits:            frontier.Limits{MaxPages: cfg.Crawl.MaxPages, MaxDepth: cfg.Crawl.MaxDepth},
		IncludeSubdomains: cfg.Crawl.IncludeSubdomains,
		RespectRobots:     cfg.Crawl.RespectRobots,
		Blacklist:         cfg.Crawl.Blacklist,
		Overflow:          cfg.Overflow(),
	}, renderer, logger)
	if err != nil {
		return err
	}
	sub := session.Subscribe(256)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		ops := server.New(cfg.Metrics.Addr, logger)
		ops.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printRecords(sub)
	}()

	start := time.Now()
	crawlErr := session.Crawl(ctx)
	<-done

	fmt.Fprintf(cmd.OutOrStdout(), "visited %d pages in %s\n",
		session.Visited(), time.Since(start).Round(time.Millisecond))
	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		return crawlErr
	}
	return nil
}

// printRecords streams records to stdout until the hub closes.
func printRecords(sub *broadcast.Subscription) {
	for {
		rec, err := sub.Recv(context.Background())
		switch {
		case errors.Is(err, broadcast.ErrSubscriberLagged):
			fmt.Fprintln(os.Stderr, "output fell behind; some records were dropped")
			continue
		case err != nil:
			return
		}
		if rec.OK() {
			fmt.Printf("%d  %s  depth=%d links=%d %s\n",
				rec.StatusCode, rec.URL, rec.Depth, len(rec.Links),
				rec.Duration.Round(time.Millisecond))
		} else {
			fmt.Printf("FAIL  %s  depth=%d failure=%s: %s\n",
				rec.URL, rec.Depth, rec.Failure, rec.Error)
		}
	}
}

// applyFlagOverrides lets explicit flags win over the config file.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, flags crawlFlags) {
	set := cmd.Flags().Changed
	if set("limit") {
		cfg.Crawl.MaxPages = flags.limit
	}
	if set("depth") {
		cfg.Crawl.MaxDepth = flags.depth
	}
	if set("concurrency") {
		cfg.Crawl.Concurrency = flags.concurrency
	}
	if set("delay-ms") {
		cfg.Crawl.DelayMs = flags.delayMs
	}
	if set("subdomains") {
		cfg.Crawl.IncludeSubdomains = flags.subdomains
	}
	if set("headless") {
		cfg.Render.Headless = flags.headless
	}
	if set("respect-robots") {
		cfg.Crawl.RespectRobots = flags.robots
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
	}
}

// buildRenderer selects the backend from configuration. The environment
// overrides were resolved once; a headless session with CHROME_URL set only
// ever attaches remotely.
func buildRenderer(cfg config.Config, env config.EnvOverrides, logger *zap.Logger) (render.Renderer, error) {
	if !cfg.Render.Headless {
		return render.NewFetcher(render.FetchConfig{
			UserAgent: cfg.Crawl.UserAgent,
			Timeout:   cfg.RequestTimeout(),
			Proxies:   cfg.Crawl.Proxies,
		}, logger)
	}
	return render.NewHeadless(render.HeadlessConfig{
		Browser: render.BrowserConfig{
			RemoteURL: env.RemoteURL,
			ExecPath:  env.ExecPath,
			Profile:   cfg.RenderProfile(),
			UserAgent: cfg.Crawl.UserAgent,
			Proxies:   cfg.Crawl.Proxies,
		},
		Viewport:       cfg.Viewport(),
		TimezoneID:     cfg.Render.TimezoneID,
		Locale:         cfg.Render.Locale,
		Wait:           cfg.WaitConditions(),
		RequestTimeout: cfg.RequestTimeout(),
		CacheEnabled:   cfg.Render.CacheEnabled,
		Intercept:      cfg.Render.Intercept,
		Screenshots: render.ScreenshotDefaults{
			FullPage:       env.ScreenshotFullPage,
			OmitBackground: env.ScreenshotOmitBackground,
		},
		AutomationScripts: cfg.AutomationScripts(),
		ExecutionScripts:  cfg.Render.ExecutionScripts,
	}, logger), nil
}
