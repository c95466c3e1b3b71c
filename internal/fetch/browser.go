package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "schedsync/internal/log"
)

// Default browser parameters.
const (
	DefaultBrowserTimeout = 45 * time.Second
	DefaultSettleDelay    = 2 * time.Second
)

// Browser renders single-page-app schedules with headless Chromium via
// chromedp and returns the resulting DOM as HTML.
type Browser struct {
	// Timeout bounds the entire render. Zero means DefaultBrowserTimeout.
	Timeout time.Duration

	// SettleDelay gives client-side rendering time to finish after the
	// body is ready. Zero means DefaultSettleDelay.
	SettleDelay time.Duration

	// WaitSelector, if set, must become visible before the DOM is read.
	WaitSelector string
}

// NewBrowser returns a Browser with the given overall timeout.
func NewBrowser(timeout time.Duration) *Browser {
	return &Browser{Timeout: timeout}
}

// Fetch launches (or attaches to) a headless Chromium instance, navigates to
// url, waits for the page to settle and returns the outer HTML of the
// document.
func (b *Browser) Fetch(parentCtx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("browser: URL is required")
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowserTimeout
	}
	settle := b.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	// Apply timeout to the entire render sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(b.WaitSelector, chromedp.ByQuery))
	}
	tasks = append(tasks,
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	appLog.Debug("browser render start", "url", RedactURL(url), "timeout", timeout.String())

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("browser: chromedp run failed: %w", err)
	}
	return []byte(html), nil
}
