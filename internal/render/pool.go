package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/chromedp"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// instance is one checked-out headless browser. Its context carries the
// chromedp target; both cancel funcs must run to reap the process.
type instance struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

func (i *instance) close() {
	if i.cancelBrowser != nil {
		i.cancelBrowser()
	}
	if i.cancelAlloc != nil {
		i.cancelAlloc()
	}
}

// healthy reports whether the browser context is still usable. A crashed
// or disconnected browser cancels its own context.
func (i *instance) healthy() bool {
	return i.ctx.Err() == nil
}

// Pool is a fixed-size pool of headless browser instances. Renders check
// an instance out, use it, and release it; a crashed instance is evicted
// and replaced on release.
type Pool struct {
	slots  chan *instance
	launch func() (*instance, error)
}

// NewPool launches size browser instances up front. If the rendering
// engine cannot start at all the pool fails with design.ErrBrowserLaunch,
// which callers treat as batch-fatal.
func NewPool(size int, execPath string) (*Pool, error) {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		slots:  make(chan *instance, size),
		launch: func() (*instance, error) { return launchBrowser(execPath) },
	}

	for i := 0; i < size; i++ {
		inst, err := p.launch()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%w: %v", design.ErrBrowserLaunch, err)
		}
		p.slots <- inst
	}

	return p, nil
}

// Acquire checks an instance out, waiting until one is free or the
// context is done. Unhealthy instances found at checkout are replaced.
func (p *Pool) Acquire(ctx context.Context) (*instance, error) {
	select {
	case inst := <-p.slots:
		if inst.healthy() {
			return inst, nil
		}
		slog.Warn("Evicting crashed browser instance")
		inst.close()
		fresh, err := p.launch()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", design.ErrBrowserLaunch, err)
		}
		return fresh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an instance to the pool, replacing it if it crashed
// while checked out. Release never blocks and is safe on every exit path.
func (p *Pool) Release(inst *instance) {
	if inst == nil {
		return
	}
	if !inst.healthy() {
		slog.Warn("Replacing browser instance crashed during render")
		inst.close()
		fresh, err := p.launch()
		if err != nil {
			slog.Error("Failed to relaunch browser instance", "err", err)
			return
		}
		inst = fresh
	}

	select {
	case p.slots <- inst:
	default:
		// Pool already full (a replacement raced us); drop the extra.
		inst.close()
	}
}

// Close tears down every pooled instance.
func (p *Pool) Close() {
	for {
		select {
		case inst := <-p.slots:
			inst.close()
		default:
			return
		}
	}
}

// launchBrowser starts one sandboxed headless Chrome and verifies it is
// actually running before handing it out.
func launchBrowser(execPath string) (*instance, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("force-device-scale-factor", "1"),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser process to start now, so a
	// missing or broken Chrome fails here instead of mid-render.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}

	return &instance{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}
