package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/readiness"
)

// PDFOptions control the print-to-PDF rendering. Author-specified CSS
// page sizes take precedence over the paper defaults.
type PDFOptions struct {
	PrintBackground bool
	Landscape       bool
}

// A4 paper in inches, with fixed margins.
const (
	paperWidthInches  = 8.27
	paperHeightInches = 11.69
	marginInches      = 0.4
)

// PageSession is a live handle bound to one browser tab, exclusively
// owned by one in-flight request. It is destroyed unconditionally at
// the end of that request's lifecycle via Close.
type PageSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once

	statusMu sync.Mutex
	status   int

	lcMu      sync.Mutex
	lcSeen    map[string]bool
	lcWaiters map[string][]chan struct{}
}

func newPageSession(browserCtx context.Context, logger *zap.Logger) (*PageSession, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx)

	p := &PageSession{
		ctx:       tabCtx,
		cancel:    cancel,
		logger:    logger,
		lcSeen:    make(map[string]bool),
		lcWaiters: make(map[string][]chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, p.onEvent)

	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := page.Enable().Do(ctx); err != nil {
				return err
			}
			return page.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("preparing page: %w", err)
	}

	return p, nil
}

func (p *PageSession) onEvent(event interface{}) {
	switch ev := event.(type) {
	case *page.EventLifecycleEvent:
		p.lcMu.Lock()
		name := string(ev.Name)
		if name == "init" {
			// New document; earlier lifecycle signals no longer apply.
			p.lcSeen = make(map[string]bool)
		} else {
			p.lcSeen[name] = true
			for _, ch := range p.lcWaiters[name] {
				close(ch)
			}
			p.lcWaiters[name] = nil
		}
		p.lcMu.Unlock()

	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument {
			return
		}
		p.statusMu.Lock()
		if p.status == 0 {
			p.status = int(ev.Response.Status)
		}
		p.statusMu.Unlock()
	}
}

// run executes chromedp actions on the tab with a per-call timeout,
// while still observing the caller's context for cancellation.
func (p *PageSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// SetExtraHeaders installs header overrides applied to every request
// the page makes.
func (p *PageSession) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	converted := make(network.Headers, len(headers))
	for k, v := range headers {
		converted[k] = v
	}
	return p.run(ctx, 5*time.Second, network.SetExtraHTTPHeaders(converted))
}

// SetViewport fixes the page viewport dimensions.
func (p *PageSession) SetViewport(ctx context.Context, width, height int64) error {
	return p.run(ctx, 5*time.Second, chromedp.EmulateViewport(width, height))
}

// EmulateMedia switches the emulated CSS media type ("screen" or
// "print").
func (p *PageSession) EmulateMedia(ctx context.Context, media string) error {
	if media == "" {
		return nil
	}
	return p.run(ctx, 5*time.Second, emulation.SetEmulatedMedia().WithMedia(media))
}

// Navigate drives the tab to url and waits for the document to load,
// bounded by timeout. The HTTP status of the document response is
// captured from network events; the final URL reflects any redirects.
func (p *PageSession) Navigate(ctx context.Context, url string, timeout time.Duration) (readiness.NavResult, error) {
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return readiness.NavResult{}, err
	}

	var finalURL string
	if err := p.run(ctx, 5*time.Second, chromedp.Location(&finalURL)); err != nil {
		p.logger.Warn("failed to read final url", zap.Error(err))
	}

	return readiness.NavResult{Status: p.Status(), FinalURL: finalURL}, nil
}

// SetContent replaces the document with inline HTML.
func (p *PageSession) SetContent(ctx context.Context, html string) error {
	return p.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
	}))
}

// WaitSelector waits for an element matching selector to be attached
// to the document tree, or visible when visible is set.
func (p *PageSession) WaitSelector(ctx context.Context, selector string, visible bool, timeout time.Duration) error {
	action := chromedp.WaitReady(selector, chromedp.ByQuery)
	if visible {
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	}
	return p.run(ctx, timeout, action)
}

// WaitLifecycle waits for a page lifecycle event ("load",
// "networkIdle", ...) that has not already fired for the current
// document.
func (p *PageSession) WaitLifecycle(ctx context.Context, event string, timeout time.Duration) error {
	p.lcMu.Lock()
	if p.lcSeen[event] {
		p.lcMu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.lcWaiters[event] = append(p.lcWaiters[event], ch)
	p.lcMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s event", event)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Poll evaluates a boolean JavaScript predicate inside the page until
// it reports true or timeout elapses.
func (p *PageSession) Poll(ctx context.Context, expr string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var ok bool
		err := p.run(ctx, 2*time.Second, chromedp.Evaluate(expr, &ok))
		if err == nil && ok {
			return nil
		}

		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("predicate evaluation failed: %w", err)
			}
			return fmt.Errorf("predicate not satisfied within %s", timeout)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

// ScrollTo evaluates a scroll expression in the page.
func (p *PageSession) ScrollTo(ctx context.Context, expr string) error {
	return p.run(ctx, 5*time.Second, chromedp.Evaluate(expr, nil))
}

// Screenshot captures the full page as PNG.
func (p *PageSession) Screenshot(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, timeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

// HTML serializes the current, possibly script-mutated document.
func (p *PageSession) HTML(ctx context.Context, timeout time.Duration) (string, error) {
	var html string
	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			root, err := dom.GetDocument().Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}
			html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}
			return nil
		}
		return fmt.Errorf("extracting html after 3 attempts: %w", lastErr)
	}))
	if err != nil {
		return "", err
	}
	return html, nil
}

// PDF renders the page to PDF. Render has its own timeout, distinct
// from the readiness bounds: printing can legitimately take longer
// than a wait.
func (p *PageSession) PDF(ctx context.Context, opts PDFOptions, timeout time.Duration) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.PrintToPDF().
			WithPaperWidth(paperWidthInches).
			WithPaperHeight(paperHeightInches).
			WithMarginTop(marginInches).
			WithMarginRight(marginInches).
			WithMarginBottom(marginInches).
			WithMarginLeft(marginInches).
			WithPrintBackground(opts.PrintBackground).
			WithLandscape(opts.Landscape).
			WithPreferCSSPageSize(true)

		var err error
		buf, _, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Status reports the HTTP status of the document response, or 0 when
// none was captured (inline content).
func (p *PageSession) Status() int {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

// Close tears the tab down. Idempotent; must run on every exit path.
func (p *PageSession) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
