// Package config loads and validates crawl configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arachnid-go/arachne/internal/broadcast"
	"github.com/arachnid-go/arachne/internal/render"
)

// Config captures all session configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Render  RenderConfig  `mapstructure:"render"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CrawlConfig governs scheduling, budgets, and policy.
type CrawlConfig struct {
	UserAgent         string   `mapstructure:"user_agent"`
	Concurrency       int      `mapstructure:"concurrency"`
	DelayMs           int      `mapstructure:"delay_ms"`
	MaxDepth          int      `mapstructure:"max_depth"`
	MaxPages          int      `mapstructure:"max_pages"`
	IncludeSubdomains bool     `mapstructure:"include_subdomains"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	Blacklist         []string `mapstructure:"blacklist"`
	Proxies           []string `mapstructure:"proxies"`
	// Overflow is the subscriber overflow policy: drop_oldest or lag_notify.
	Overflow string `mapstructure:"overflow"`
}

// RenderConfig selects and tunes the render backend.
type RenderConfig struct {
	Headless          bool             `mapstructure:"headless"`
	Profile           string           `mapstructure:"profile"`
	RequestTimeoutSec int              `mapstructure:"request_timeout_seconds"`
	CacheEnabled      bool             `mapstructure:"cache_enabled"`
	Intercept         bool             `mapstructure:"intercept"`
	TimezoneID        string           `mapstructure:"timezone_id"`
	Locale            string           `mapstructure:"locale"`
	Viewport          *ViewportConfig  `mapstructure:"viewport"`
	Wait              WaitConfig       `mapstructure:"wait"`
	AutomationScripts map[string][]StepConfig `mapstructure:"automation_scripts"`
	ExecutionScripts  map[string]string       `mapstructure:"execution_scripts"`
}

// ViewportConfig emulates device metrics on rendered pages.
type ViewportConfig struct {
	Width     int64   `mapstructure:"width"`
	Height    int64   `mapstructure:"height"`
	Scale     float64 `mapstructure:"scale"`
	Mobile    bool    `mapstructure:"mobile"`
	Landscape bool    `mapstructure:"landscape"`
	Touch     bool    `mapstructure:"touch"`
}

// WaitConfig declares the post-navigation wait conditions.
type WaitConfig struct {
	IdleNetworkMs     int    `mapstructure:"idle_network_ms"`
	Selector          string `mapstructure:"selector"`
	SelectorTimeoutMs int    `mapstructure:"selector_timeout_ms"`
	DelayMs           int    `mapstructure:"delay_ms"`
	PageNavigations   bool   `mapstructure:"page_navigations"`
}

// StepConfig is the file-format form of one automation step.
type StepConfig struct {
	Kind           string `mapstructure:"kind"`
	Script         string `mapstructure:"script"`
	Selector       string `mapstructure:"selector"`
	Value          string `mapstructure:"value"`
	Millis         int64  `mapstructure:"millis"`
	Pixels         int64  `mapstructure:"pixels"`
	FullPage       *bool  `mapstructure:"full_page"`
	OmitBackground *bool  `mapstructure:"omit_background"`
	Output         string `mapstructure:"output"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the ops HTTP surface.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// EnvOverrides are process-environment settings resolved exactly once, at
// configuration time, so a mid-crawl environment change has no effect.
type EnvOverrides struct {
	// RemoteURL attaches to an already running browser instead of launching.
	RemoteURL string
	// ExecPath overrides the browser executable for local launches.
	ExecPath string
	// Screenshot capture fallbacks for flags not set per call.
	ScreenshotFullPage       bool
	ScreenshotOmitBackground bool
}

// ResolveEnv reads the browser and screenshot environment variables.
func ResolveEnv() EnvOverrides {
	return EnvOverrides{
		RemoteURL:                os.Getenv("CHROME_URL"),
		ExecPath:                 os.Getenv("CHROME_BIN"),
		ScreenshotFullPage:       envBool("SCREENSHOT_FULL_PAGE"),
		ScreenshotOmitBackground: envBool("SCREENSHOT_OMIT_BACKGROUND"),
	}
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

// Load builds a Config from disk/environment. The key delimiter is "::"
// rather than the usual "." so that URL-keyed maps (automation_scripts,
// execution_scripts) survive loading: URLs contain dots, and the default
// delimiter would split them into nested keys.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetEnvPrefix("ARACHNE")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl::user_agent", "arachne/0.1")
	v.SetDefault("crawl::concurrency", 4)
	v.SetDefault("crawl::delay_ms", 0)
	v.SetDefault("crawl::max_depth", 0)
	v.SetDefault("crawl::max_pages", 0)
	v.SetDefault("crawl::include_subdomains", false)
	v.SetDefault("crawl::respect_robots", false)
	v.SetDefault("crawl::overflow", "drop_oldest")
	v.SetDefault("render::headless", false)
	v.SetDefault("render::profile", "headless")
	v.SetDefault("render::request_timeout_seconds", 45)
	v.SetDefault("render::cache_enabled", true)
	v.SetDefault("render::intercept", false)
	v.SetDefault("logging::development", true)
	v.SetDefault("metrics::addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.DelayMs < 0 {
		return fmt.Errorf("crawl.delay_ms must be >= 0")
	}
	switch c.Crawl.Overflow {
	case "drop_oldest", "lag_notify":
	default:
		return fmt.Errorf("crawl.overflow must be drop_oldest or lag_notify, got %q", c.Crawl.Overflow)
	}
	switch c.Render.Profile {
	case "headless", "headed", "low_resource":
	default:
		return fmt.Errorf("render.profile must be headless, headed, or low_resource, got %q", c.Render.Profile)
	}
	if c.Render.RequestTimeoutSec <= 0 {
		return fmt.Errorf("render.request_timeout_seconds must be > 0")
	}
	if vp := c.Render.Viewport; vp != nil && (vp.Width <= 0 || vp.Height <= 0) {
		return fmt.Errorf("render.viewport dimensions must be > 0")
	}
	for url, steps := range c.Render.AutomationScripts {
		for i, step := range steps {
			if _, err := step.ToStep(); err != nil {
				return fmt.Errorf("automation script %q step %d: %w", url, i, err)
			}
		}
	}
	return nil
}

// Overflow maps the configured policy name to the broadcast constant.
func (c Config) Overflow() broadcast.Overflow {
	if c.Crawl.Overflow == "lag_notify" {
		return broadcast.OverflowLagNotify
	}
	return broadcast.OverflowDropOldest
}

// RenderProfile maps the configured profile name to the launch-flag table.
func (c Config) RenderProfile() render.Profile {
	switch c.Render.Profile {
	case "headed":
		return render.ProfileHeaded
	case "low_resource":
		return render.ProfileLowResource
	default:
		return render.ProfileHeadless
	}
}

// RequestTimeout returns the per-page navigation budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Render.RequestTimeoutSec) * time.Second
}

// Delay returns the dispatch pacing interval.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawl.DelayMs) * time.Millisecond
}

// WaitConditions converts the wait block into the render package's form.
func (c Config) WaitConditions() render.WaitConditions {
	w := c.Render.Wait
	conditions := render.WaitConditions{PageNavigations: w.PageNavigations}
	if w.IdleNetworkMs > 0 {
		conditions.IdleNetwork = &render.WaitForIdleNetwork{
			Timeout: time.Duration(w.IdleNetworkMs) * time.Millisecond,
		}
	}
	if w.Selector != "" {
		conditions.Selector = &render.WaitForSelector{
			Selector: w.Selector,
			Timeout:  time.Duration(w.SelectorTimeoutMs) * time.Millisecond,
		}
	}
	if w.DelayMs > 0 {
		conditions.Delay = &render.WaitForDelay{
			Timeout: time.Duration(w.DelayMs) * time.Millisecond,
		}
	}
	return conditions
}

// Viewport converts the viewport block, nil when unset.
func (c Config) Viewport() *render.Viewport {
	vp := c.Render.Viewport
	if vp == nil {
		return nil
	}
	return &render.Viewport{
		Width:       vp.Width,
		Height:      vp.Height,
		ScaleFactor: vp.Scale,
		Mobile:      vp.Mobile,
		Landscape:   vp.Landscape,
		Touch:       vp.Touch,
	}
}

// AutomationScripts converts every configured script. Call Validate first;
// invalid kinds are dropped here.
func (c Config) AutomationScripts() map[string][]render.Step {
	if len(c.Render.AutomationScripts) == 0 {
		return nil
	}
	scripts := make(map[string][]render.Step, len(c.Render.AutomationScripts))
	for url, stepConfigs := range c.Render.AutomationScripts {
		steps := make([]render.Step, 0, len(stepConfigs))
		for _, sc := range stepConfigs {
			step, err := sc.ToStep()
			if err != nil {
				continue
			}
			steps = append(steps, step)
		}
		scripts[url] = steps
	}
	return scripts
}

// ToStep converts the file form into a render.Step.
func (s StepConfig) ToStep() (render.Step, error) {
	switch s.Kind {
	case "evaluate":
		return render.Evaluate(s.Script), nil
	case "click":
		return render.Click(s.Selector), nil
	case "wait":
		return render.Wait(s.Millis), nil
	case "wait_for_navigation":
		return render.WaitForNavigation(), nil
	case "wait_for":
		return render.WaitFor(s.Selector), nil
	case "wait_for_and_click":
		return render.WaitForAndClick(s.Selector), nil
	case "scroll_x":
		return render.ScrollX(s.Pixels), nil
	case "scroll_y":
		return render.ScrollY(s.Pixels), nil
	case "fill":
		return render.Fill(s.Selector, s.Value), nil
	case "infinite_scroll":
		return render.InfiniteScroll(s.Millis), nil
	case "screenshot":
		return render.Step{Kind: render.StepScreenshot, Screenshot: &render.ScreenshotParams{
			FullPage:       s.FullPage,
			OmitBackground: s.OmitBackground,
			Output:         s.Output,
		}}, nil
	default:
		return render.Step{}, fmt.Errorf("unknown step kind %q", s.Kind)
	}
}
