package platform

import (
	"context"

	"github.com/chromedp/chromedp"
)

// TikTokAdapter inspects a creator's live page in the shared headless browser.
// TikTok has no open liveness API; the live badge and room title in the DOM
// are the only reliable markers. Navigation and timeout errors map to "not
// live": an offline creator's page legitimately looks the same as a slow one.
type TikTokAdapter struct{}

func NewTikTok() *TikTokAdapter { return &TikTokAdapter{} }

func (t *TikTokAdapter) Platform() Name     { return TikTok }
func (t *TikTokAdapter) NeedsBrowser() bool { return true }

func (t *TikTokAdapter) Probe(ctx context.Context, ref Ref, sess *Session) (LiveStatus, error) {
	br, err := sess.Browser(ctx)
	if err != nil {
		return LiveStatus{}, err
	}
	tab, cancel := br.NewTab()
	defer cancel()
	// Tab contexts chain from the browser, not the probe context, so the
	// probe deadline has to be re-applied here.
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		tab, dcancel = context.WithDeadline(tab, deadline)
		defer dcancel()
	}

	liveURL := "https://www.tiktok.com/@" + ref.ExternalID + "/live"
	st := LiveStatus{URL: liveURL}

	var isLive bool
	var title string
	err = chromedp.Run(tab,
		chromedp.Navigate(liveURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.querySelector('[data-e2e="live-avatar"]') !== null
			&& document.querySelector('[data-e2e="live-room-offline"]') === null`, &isLive),
		chromedp.Evaluate(`(document.querySelector('[data-e2e="user-live-title"]') || {textContent: ""}).textContent`, &title),
	)
	if err != nil {
		// offline pages frequently never settle; that is not a probe failure
		return st, nil
	}
	st.IsLive = isLive
	if isLive {
		st.Title = title
	}
	return st, nil
}
