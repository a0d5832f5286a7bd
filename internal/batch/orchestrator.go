// Package batch fans a generation request out into independently failing
// variant slots and aggregates the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// ContentGenerator produces design markup for a prompt, optionally
// steered by inlined reference images.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string, images []design.ImageAsset) (design.Markup, error)
}

// Renderer turns markup plus embedded assets into image bytes.
type Renderer interface {
	Render(ctx context.Context, m design.Markup, background, logo *design.ImageAsset, vp design.Viewport) ([]byte, error)
}

// Options bounds the orchestrator's concurrency and time budget.
type Options struct {
	// MaxGenerations caps concurrent provider calls (network-bound,
	// rate-limited upstream).
	MaxGenerations int64
	// MaxRenders caps concurrent renders. Each render owns a full
	// browser process, so this ceiling sits well below MaxGenerations.
	MaxRenders int64
	// Timeout is the overall budget for one batch.
	Timeout time.Duration
}

// Orchestrator runs ContentGenerator -> Renderer for each variant slot
// with per-stage concurrency ceilings. A failure in one slot never
// aborts its siblings.
type Orchestrator struct {
	generator ContentGenerator
	renderer  Renderer
	genSem    *semaphore.Weighted
	renderSem *semaphore.Weighted
	timeout   time.Duration
}

// New creates an orchestrator.
func New(generator ContentGenerator, renderer Renderer, opts Options) *Orchestrator {
	maxGen := opts.MaxGenerations
	if maxGen < 1 {
		maxGen = 8
	}
	maxRender := opts.MaxRenders
	if maxRender < 1 {
		maxRender = 2
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Orchestrator{
		generator: generator,
		renderer:  renderer,
		genSem:    semaphore.NewWeighted(maxGen),
		renderSem: semaphore.NewWeighted(maxRender),
		timeout:   timeout,
	}
}

// GenerateBatch runs n variant slots for the composed prompt and
// aggregates them. It returns design.ErrAllVariantsFailed when zero
// slots succeed and design.ErrRequestTimeout when the batch budget is
// exceeded; on timeout, in-flight slots are cancelled and their late
// results discarded.
func (o *Orchestrator) GenerateBatch(ctx context.Context, req design.GenerationRequest, prompt string, n int, background *design.ImageAsset) (*design.GenerationBatch, error) {
	batchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	variants := make([]design.DesignVariant, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			variants[slot] = o.runSlot(batchCtx, req, prompt, slot, background)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
		// The slots slice is still being written by abandoned slots;
		// do not touch it. Cancellation propagates through batchCtx,
		// and renders release their browsers on their own exit paths.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", design.ErrRequestTimeout, o.timeout)
	}

	b := &design.GenerationBatch{Variants: variants, CreatedAt: time.Now().UTC()}
	slog.Info("Batch completed",
		"requested", n, "succeeded", b.SucceededCount(), "failed", b.FailedCount())

	if b.SucceededCount() == 0 {
		return b, design.ErrAllVariantsFailed
	}
	return b, nil
}

// runSlot executes one variant pipeline. Every error is caught here and
// folded into a terminal failed variant; nothing propagates.
func (o *Orchestrator) runSlot(ctx context.Context, req design.GenerationRequest, prompt string, slot int, background *design.ImageAsset) design.DesignVariant {
	v := design.DesignVariant{
		ID:         uuid.NewString(),
		StyleLabel: design.StyleLabel(slot),
		State:      design.StatePending,
	}

	fail := func(err error) design.DesignVariant {
		v.State = design.StateFailed
		v.Failure = design.Classify(err)
		v.Err = err
		slog.Warn("Variant failed", "slot", slot, "kind", v.Failure, "err", err)
		return v
	}

	// Carousel mode binds one source image per slot: shared prompt,
	// differing reference asset.
	refs := o.slotReferences(req, slot)

	v.State = design.StateGenerating
	if err := o.genSem.Acquire(ctx, 1); err != nil {
		return fail(fmt.Errorf("%w: waiting for generation slot: %v", design.ErrRequestTimeout, err))
	}
	markup, err := o.generator.Generate(ctx, o.slotPrompt(prompt, slot), refs)
	o.genSem.Release(1)
	if err != nil {
		return fail(err)
	}
	v.HTML = markup.HTML
	v.CSS = markup.CSS

	v.State = design.StateRendering
	if err := o.renderSem.Acquire(ctx, 1); err != nil {
		return fail(fmt.Errorf("%w: waiting for render slot: %v", design.ErrRequestTimeout, err))
	}
	image, err := o.renderer.Render(ctx, markup, background, req.Logo, req.AspectRatio.Viewport())
	o.renderSem.Release(1)
	if err != nil {
		return fail(err)
	}

	v.Image = image
	v.State = design.StateSucceeded
	return v
}

// slotPrompt appends the slot's creative direction so variants sharing
// one brief still come out visually distinct.
func (o *Orchestrator) slotPrompt(prompt string, slot int) string {
	return fmt.Sprintf("%s\n\nCreative direction for this variant: %s.", prompt, design.StyleLabel(slot))
}

// slotReferences picks the reference images for a slot. In carousel mode
// slot i is bound to carousel image i (wrapping when there are fewer
// images than slots); the logo, when present, always rides along.
func (o *Orchestrator) slotReferences(req design.GenerationRequest, slot int) []design.ImageAsset {
	var refs []design.ImageAsset
	if len(req.Carousel) > 0 {
		refs = append(refs, req.Carousel[slot%len(req.Carousel)])
	}
	if req.Logo != nil {
		refs = append(refs, *req.Logo)
	}
	return refs
}

// QuotaExhausted reports whether a completed batch failed entirely due
// to provider quota, which callers surface with a machine-readable flag.
func QuotaExhausted(b *design.GenerationBatch) bool {
	if b == nil || b.SucceededCount() > 0 {
		return false
	}
	for _, v := range b.Variants {
		if v.Failure == design.FailureQuotaExceeded {
			return true
		}
	}
	return false
}

// BrowserDown reports whether the batch failed because the rendering
// engine could not start, a batch-fatal environment fault.
func BrowserDown(b *design.GenerationBatch) bool {
	if b == nil {
		return false
	}
	for _, v := range b.Variants {
		if v.Failure == design.FailureBrowserLaunch {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is the batch-level timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, design.ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded)
}
