// Package render turns generated design markup into bitmap images using
// a pool of headless Chrome instances.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// Options configures the renderer.
type Options struct {
	// PoolSize caps concurrent browser instances. Each instance is a
	// full Chrome process.
	PoolSize int
	// ExecPath overrides Chrome discovery when set.
	ExecPath string
	// Timeout bounds one render end to end.
	Timeout time.Duration
	// SettleDelay is the fixed pause after assets load, giving fonts
	// time to apply before capture.
	SettleDelay time.Duration
}

// Renderer screenshots assembled design documents at a deterministic
// viewport.
type Renderer struct {
	pool        *Pool
	timeout     time.Duration
	settleDelay time.Duration
}

// NewRenderer launches the browser pool. A launch failure here is
// batch-fatal (design.ErrBrowserLaunch).
func NewRenderer(opts Options) (*Renderer, error) {
	pool, err := NewPool(opts.PoolSize, opts.ExecPath)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}

	return &Renderer{pool: pool, timeout: timeout, settleDelay: settle}, nil
}

// Close tears down the browser pool.
func (r *Renderer) Close() {
	r.pool.Close()
}

// Render assembles the final document and captures it as PNG bytes. The
// viewport is fixed per aspect ratio so identical inputs produce
// identically sized output. The browser instance is released on every
// exit path.
func (r *Renderer) Render(ctx context.Context, m design.Markup, background, logo *design.ImageAsset, vp design.Viewport) ([]byte, error) {
	doc, err := BuildDocument(m, background, logo, vp)
	if err != nil {
		return nil, err
	}

	inst, err := r.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: waiting for browser: %v", design.ErrRenderTimeout, err)
		}
		return nil, err
	}
	defer r.pool.Release(inst)

	renderCtx, cancel := context.WithTimeout(inst.ctx, r.timeout)
	defer cancel()
	// Abandoned slots cancel their caller context; propagate that into
	// the browser context so the render aborts instead of running on.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	start := time.Now()
	err = chromedp.Run(renderCtx,
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), chromedp.EmulateScale(vp.Scale)),
		chromedp.Navigate("about:blank"),
		setDocumentContent(doc),
		chromedp.Poll("window.__assetsReady === true", nil, chromedp.WithPollingTimeout(r.timeout/2)),
		chromedp.Sleep(r.settleDelay),
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chromedp.ErrPollingTimeout) {
			return nil, fmt.Errorf("%w after %s", design.ErrRenderTimeout, time.Since(start).Round(time.Millisecond))
		}
		return nil, fmt.Errorf("rendering document: %w", err)
	}

	if len(buf) == 0 {
		return nil, fmt.Errorf("screenshot produced no bytes")
	}

	slog.Debug("Rendered design", "bytes", len(buf), "elapsed", time.Since(start))
	return buf, nil
}

// setDocumentContent injects the assembled document into the blank page.
func setDocumentContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		frameTree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
	})
}
