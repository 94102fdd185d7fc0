package render

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// stepTimeout is the hard ceiling for a single automation step.
const stepTimeout = 60 * time.Second

const (
	screenshotQuality    = 90
	infiniteScrollTick   = 250 * time.Millisecond
	infiniteScrollBudget = 10 * time.Second
)

// StepKind discriminates the automation step union.
type StepKind int

const (
	StepEvaluate StepKind = iota
	StepClick
	StepWait
	StepWaitForNavigation
	StepWaitFor
	StepWaitForAndClick
	StepScrollX
	StepScrollY
	StepFill
	StepInfiniteScroll
	StepScreenshot
)

func (k StepKind) String() string {
	switch k {
	case StepEvaluate:
		return "evaluate"
	case StepClick:
		return "click"
	case StepWait:
		return "wait"
	case StepWaitForNavigation:
		return "wait-for-navigation"
	case StepWaitFor:
		return "wait-for"
	case StepWaitForAndClick:
		return "wait-for-and-click"
	case StepScrollX:
		return "scroll-x"
	case StepScrollY:
		return "scroll-y"
	case StepFill:
		return "fill"
	case StepInfiniteScroll:
		return "infinite-scroll"
	case StepScreenshot:
		return "screenshot"
	default:
		return "unknown"
	}
}

// Step is one automation instruction. Only the fields relevant to Kind are
// set; use the constructors.
type Step struct {
	Kind       StepKind
	Script     string
	Selector   string
	Value      string
	Millis     int64
	Pixels     int64
	Screenshot *ScreenshotParams
}

// ScreenshotParams controls one capture. Nil flags fall back to the
// session's environment-resolved defaults.
type ScreenshotParams struct {
	FullPage       *bool
	OmitBackground *bool
	Output         string
}

// ScreenshotDefaults are the session-level fallbacks for capture flags,
// resolved once from the environment at configuration time.
type ScreenshotDefaults struct {
	FullPage       bool
	OmitBackground bool
}

// resolve applies params over the defaults, flag by flag.
func (d ScreenshotDefaults) resolve(params ScreenshotParams) (fullPage, omitBackground bool) {
	fullPage = d.FullPage
	if params.FullPage != nil {
		fullPage = *params.FullPage
	}
	omitBackground = d.OmitBackground
	if params.OmitBackground != nil {
		omitBackground = *params.OmitBackground
	}
	return fullPage, omitBackground
}

// Evaluate runs arbitrary JavaScript in the page.
func Evaluate(js string) Step { return Step{Kind: StepEvaluate, Script: js} }

// Click clicks the first node matching selector. A missing selector is a
// no-op.
func Click(selector string) Step { return Step{Kind: StepClick, Selector: selector} }

// Wait pauses the script for the given number of milliseconds.
func Wait(millis int64) Step { return Step{Kind: StepWait, Millis: millis} }

// WaitForNavigation waits for the next frame to stop loading.
func WaitForNavigation() Step { return Step{Kind: StepWaitForNavigation} }

// WaitFor waits until selector matches a ready node.
func WaitFor(selector string) Step { return Step{Kind: StepWaitFor, Selector: selector} }

// WaitForAndClick waits for selector and then clicks it.
func WaitForAndClick(selector string) Step {
	return Step{Kind: StepWaitForAndClick, Selector: selector}
}

// ScrollX scrolls the window horizontally by pixels.
func ScrollX(pixels int64) Step { return Step{Kind: StepScrollX, Pixels: pixels} }

// ScrollY scrolls the window vertically by pixels.
func ScrollY(pixels int64) Step { return Step{Kind: StepScrollY, Pixels: pixels} }

// Fill types value into the node matching selector.
func Fill(selector, value string) Step {
	return Step{Kind: StepFill, Selector: selector, Value: value}
}

// InfiniteScroll keeps scrolling to the bottom until the page height stops
// growing or the millisecond budget is spent.
func InfiniteScroll(budgetMillis int64) Step {
	return Step{Kind: StepInfiniteScroll, Millis: budgetMillis}
}

// Screenshot captures the page with explicit flags.
func Screenshot(fullPage, omitBackground bool, output string) Step {
	return Step{Kind: StepScreenshot, Screenshot: &ScreenshotParams{
		FullPage:       &fullPage,
		OmitBackground: &omitBackground,
		Output:         output,
	}}
}

// runScript executes steps strictly in order. Each step runs under the step
// ceiling; a failed or timed-out step is logged and the script continues
// with the next one.
func (p *Page) runScript(ctx context.Context, steps []Step) {
	for i, st := range steps {
		if ctx.Err() != nil || p.ctx.Err() != nil {
			return
		}
		stepCtx, cancel := context.WithTimeout(p.ctx, stepTimeout)
		stop := context.AfterFunc(ctx, cancel)
		err := p.runStep(stepCtx, st)
		stop()
		cancel()
		if err != nil {
			p.logger.Warn("automation step failed",
				zap.String("url", p.url),
				zap.Int("step", i),
				zap.String("kind", st.Kind.String()),
				zap.Error(err))
		}
	}
}

func (p *Page) runStep(ctx context.Context, st Step) error {
	switch st.Kind {
	case StepEvaluate:
		return chromedp.Run(ctx, chromedp.Evaluate(st.Script, nil))
	case StepClick:
		return chromedp.Run(ctx, chromedp.Click(st.Selector, chromedp.ByQuery, chromedp.AtLeast(0)))
	case StepWait:
		p.awaitDelay(ctx, time.Duration(st.Millis)*time.Millisecond)
		return nil
	case StepWaitForNavigation:
		p.awaitNavigation(ctx, stepTimeout)
		return nil
	case StepWaitFor:
		return chromedp.Run(ctx, chromedp.WaitReady(st.Selector, chromedp.ByQuery))
	case StepWaitForAndClick:
		return chromedp.Run(ctx,
			chromedp.WaitReady(st.Selector, chromedp.ByQuery),
			chromedp.Click(st.Selector, chromedp.ByQuery),
		)
	case StepScrollX:
		js := fmt.Sprintf("window.scrollBy(%d, 0)", st.Pixels)
		return chromedp.Run(ctx, chromedp.Evaluate(js, nil))
	case StepScrollY:
		js := fmt.Sprintf("window.scrollBy(0, %d)", st.Pixels)
		return chromedp.Run(ctx, chromedp.Evaluate(js, nil))
	case StepFill:
		return chromedp.Run(ctx, chromedp.SendKeys(st.Selector, st.Value, chromedp.ByQuery))
	case StepInfiniteScroll:
		return p.infiniteScroll(ctx, time.Duration(st.Millis)*time.Millisecond)
	case StepScreenshot:
		params := ScreenshotParams{}
		if st.Screenshot != nil {
			params = *st.Screenshot
		}
		_, err := p.capture(ctx, params)
		return err
	default:
		return fmt.Errorf("unknown step kind %d", st.Kind)
	}
}

// infiniteScroll scrolls to the bottom until the document height holds
// steady for two ticks or the budget is spent. Budget exhaustion is success.
func (p *Page) infiniteScroll(ctx context.Context, budget time.Duration) error {
	if budget <= 0 {
		budget = infiniteScrollBudget
	}
	scrollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	lastHeight := int64(-1)
	stable := 0
	for {
		var height int64
		err := chromedp.Run(scrollCtx,
			chromedp.Evaluate("document.body ? document.body.scrollHeight : 0", &height),
			chromedp.Evaluate("window.scrollTo(0, document.body ? document.body.scrollHeight : 0)", nil),
		)
		if err != nil {
			if scrollCtx.Err() != nil {
				return nil
			}
			return err
		}
		if height == lastHeight {
			stable++
			if stable >= 2 {
				return nil
			}
		} else {
			stable = 0
			lastHeight = height
		}
		select {
		case <-scrollCtx.Done():
			return nil
		case <-time.After(infiniteScrollTick):
		}
	}
}

// capture takes the screenshot, writes it to params.Output when set, and
// returns the PNG bytes.
func (p *Page) capture(ctx context.Context, params ScreenshotParams) ([]byte, error) {
	fullPage, omitBackground := p.cfg.Screenshots.resolve(params)

	var buf []byte
	actions := make([]chromedp.Action, 0, 3)
	if omitBackground {
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride().
			WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}))
	}
	if fullPage {
		actions = append(actions, chromedp.FullScreenshot(&buf, screenshotQuality))
	} else {
		actions = append(actions, chromedp.CaptureScreenshot(&buf))
	}
	if omitBackground {
		// Clears the override.
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride())
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	if params.Output != "" {
		if err := os.WriteFile(params.Output, buf, 0o644); err != nil {
			return nil, fmt.Errorf("write screenshot: %w", err)
		}
	}
	return buf, nil
}
