package platform

import (
	"context"

	"github.com/chromedp/chromedp"
)

// Browser owns one shared headless-Chrome process. Probes never share a tab:
// each opens its own child context against the browser so concurrent probes
// cannot step on each other's navigation.
type Browser struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// StartBrowser launches the shared Chrome process. The process is started
// eagerly so a broken Chrome install fails the first acquire instead of every
// probe in the cycle.
func StartBrowser(ctx context.Context) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}
	return &Browser{browserCtx: browserCtx, cancelBrowser: cancelBrowser, cancelAlloc: cancelAlloc}, nil
}

// NewTab opens an isolated tab context for a single probe. The caller must
// cancel it when the probe finishes.
func (b *Browser) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(b.browserCtx)
}

// Close shuts down the browser process.
func (b *Browser) Close() {
	b.cancelBrowser()
	b.cancelAlloc()
}
