package render

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// networkQuietWindow is how long the network must stay silent before it
// counts as idle.
const networkQuietWindow = 500 * time.Millisecond

// defaultNavigationWait bounds the frame-stopped-loading wait when no
// explicit timeout applies.
const defaultNavigationWait = 30 * time.Second

// WaitForIdleNetwork waits until no network activity occurred for the quiet
// window, or Timeout elapsed.
type WaitForIdleNetwork struct {
	Timeout time.Duration
}

// WaitForSelector waits until Selector matches a ready node, or Timeout
// elapsed.
type WaitForSelector struct {
	Selector string
	Timeout  time.Duration
}

// WaitForDelay sleeps for the fixed duration.
type WaitForDelay struct {
	Timeout time.Duration
}

// WaitConditions bundles the post-navigation wait conditions. Every
// configured condition is evaluated; a condition timing out is logged and
// never fails the page.
type WaitConditions struct {
	IdleNetwork     *WaitForIdleNetwork
	Selector        *WaitForSelector
	Delay           *WaitForDelay
	PageNavigations bool
}

// empty reports whether no condition is configured.
func (w WaitConditions) empty() bool {
	return w.IdleNetwork == nil && w.Selector == nil && w.Delay == nil && !w.PageNavigations
}

// await runs the configured wait conditions in a fixed order: idle network,
// selector, explicit delay, then the navigation watch.
func (p *Page) await(ctx context.Context, w WaitConditions) {
	if w.empty() {
		return
	}
	if w.IdleNetwork != nil {
		p.awaitIdleNetwork(ctx, w.IdleNetwork.Timeout)
	}
	if w.Selector != nil {
		p.awaitSelector(ctx, w.Selector.Selector, w.Selector.Timeout)
	}
	if w.Delay != nil {
		p.awaitDelay(ctx, w.Delay.Timeout)
	}
	if w.PageNavigations {
		p.awaitNavigation(ctx, defaultNavigationWait)
	}
}

// awaitIdleNetwork resolves once the page generated no network events for
// the quiet window. Every observed request or load completion resets the
// window.
func (p *Page) awaitIdleNetwork(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultNavigationWait
	}
	activity := make(chan struct{}, 1)
	listenCtx, cancelListen := context.WithCancel(p.ctx)
	defer cancelListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent, *network.EventLoadingFinished, *network.EventLoadingFailed:
			select {
			case activity <- struct{}{}:
			default:
			}
		}
	})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	quiet := time.NewTimer(networkQuietWindow)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		case <-deadline.C:
			p.logger.Debug("idle-network wait timed out", zap.String("url", p.url))
			return
		case <-quiet.C:
			return
		case <-activity:
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(networkQuietWindow)
		}
	}
}

// awaitSelector blocks until the selector is ready or the timeout fires.
func (p *Page) awaitSelector(ctx context.Context, selector string, timeout time.Duration) {
	if selector == "" {
		return
	}
	if timeout <= 0 {
		timeout = defaultNavigationWait
	}
	waitCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		p.logger.Debug("selector wait ended without a match",
			zap.String("url", p.url),
			zap.String("selector", selector),
			zap.Error(err))
	}
}

// awaitDelay sleeps, bounded by page and caller lifetimes.
func (p *Page) awaitDelay(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-p.ctx.Done():
	}
}

// awaitNavigation waits for the next frame to stop loading, typically after
// a client-side redirect.
func (p *Page) awaitNavigation(ctx context.Context, timeout time.Duration) {
	stopped := make(chan struct{}, 1)
	listenCtx, cancelListen := context.WithCancel(p.ctx)
	defer cancelListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventFrameStoppedLoading); ok {
			select {
			case stopped <- struct{}{}:
			default:
			}
		}
	})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-stopped:
	case <-deadline.C:
		p.logger.Debug("navigation wait timed out", zap.String("url", p.url))
	case <-ctx.Done():
	case <-p.ctx.Done():
	}
}
