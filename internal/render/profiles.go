package render

import (
	"strings"

	"github.com/chromedp/chromedp"
)

// Profile selects a fixed launch-flag table for locally launched browsers.
// The table is chosen once at backend construction and never changes for the
// life of the session.
type Profile int

const (
	// ProfileHeadless is the default hardened headless argument set.
	ProfileHeadless Profile = iota
	// ProfileHeaded launches a visible browser window.
	ProfileHeaded
	// ProfileLowResource trades rendering fidelity for memory, for use in
	// constrained containers.
	ProfileLowResource
)

func (p Profile) String() string {
	switch p {
	case ProfileHeaded:
		return "headed"
	case ProfileLowResource:
		return "low-resource"
	default:
		return "headless"
	}
}

// Shared hardening arguments. Background throttling and component services
// are disabled so pages behave the same whether or not the window is
// occluded.
var baseArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-extensions",
	"--disable-component-extensions-with-background-pages",
	"--disable-background-networking",
	"--disable-component-update",
	"--disable-client-side-phishing-detection",
	"--disable-sync",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-background-timer-throttling",
	"--disable-ipc-flooding-protection",
	"--disable-hang-monitor",
	"--disable-prompt-on-repost",
	"--disable-domain-reliability",
	"--metrics-recording-only",
	"--mute-audio",
	"--hide-scrollbars",
	"--password-store=basic",
	"--use-mock-keychain",
	"--force-fieldtrials=*BackgroundTracing/default/",
	"--autoplay-policy=user-gesture-required",
	"--disable-features=InterestFeedContentSuggestions,PrivacySandboxSettings4,AutofillServerCommunication,CalculateNativeWinOcclusion,OptimizationHints,AudioServiceOutOfProcess,IsolateOrigins,site-per-process,ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,DialMediaRouteProvider,AcceptCHFrame,AutoExpandDetailsElement,CertificateTransparencyComponentUpdater,AvoidUnnecessaryBeforeUnloadCheckSync,Translate",
}

var headlessArgs = append([]string{
	"--headless=new",
	"--disable-gpu",
	"--disable-gpu-sandbox",
	"--disable-setuid-sandbox",
}, baseArgs...)

var headedArgs = append([]string{
	"--disable-setuid-sandbox",
}, baseArgs...)

var lowResourceArgs = append([]string{
	"--headless=new",
	"--no-zygote",
	"--in-process-gpu",
	"--disable-gpu",
	"--disable-threaded-scrolling",
	"--disable-threaded-animation",
	"--disable-partial-raster",
	"--disable-site-isolation-trials",
	"--disable-setuid-sandbox",
}, baseArgs...)

func (p Profile) args() []string {
	switch p {
	case ProfileHeaded:
		return headedArgs
	case ProfileLowResource:
		return lowResourceArgs
	default:
		return headlessArgs
	}
}

// allocatorOptions converts the profile's argument table plus per-session
// settings into chromedp exec-allocator options.
func allocatorOptions(cfg BrowserConfig) []chromedp.ExecAllocatorOption {
	args := cfg.Profile.args()
	opts := make([]chromedp.ExecAllocatorOption, 0, len(args)+3)
	for _, arg := range args {
		opts = append(opts, flagOption(arg))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if len(cfg.Proxies) > 0 {
		// Chromium accepts a semicolon-separated scheme mapping in a single
		// proxy-server flag.
		opts = append(opts, chromedp.ProxyServer(strings.Join(cfg.Proxies, ";")))
	}
	return opts
}

// flagOption parses a "--name" or "--name=value" argument into the
// corresponding chromedp flag.
func flagOption(arg string) chromedp.ExecAllocatorOption {
	name := strings.TrimPrefix(arg, "--")
	if eq := strings.IndexByte(name, '='); eq >= 0 {
		return chromedp.Flag(name[:eq], name[eq+1:])
	}
	return chromedp.Flag(name, true)
}
