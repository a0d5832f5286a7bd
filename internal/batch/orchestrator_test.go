package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

type stubGenerator struct {
	// failOn maps a style label substring to the error that slot gets.
	failOn map[string]error
	delay  time.Duration
	calls  atomic.Int64
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, images []design.ImageAsset) (design.Markup, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return design.Markup{}, ctx.Err()
		}
	}
	for label, err := range s.failOn {
		if strings.Contains(prompt, label) {
			return design.Markup{}, err
		}
	}
	html := "<div>design</div>"
	if len(images) > 0 {
		html = string(images[0].Data)
	}
	return design.Markup{HTML: html, CSS: "div{}"}, nil
}

type stubRenderer struct {
	err        error
	inFlight   atomic.Int64
	maxGlimpse atomic.Int64
}

func (s *stubRenderer) Render(ctx context.Context, m design.Markup, background, logo *design.ImageAsset, vp design.Viewport) ([]byte, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxGlimpse.Load()
		if cur <= max || s.maxGlimpse.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("png:" + m.HTML), nil
}

func newTestOrchestrator(gen ContentGenerator, ren Renderer) *Orchestrator {
	return New(gen, ren, Options{MaxGenerations: 8, MaxRenders: 2, Timeout: 5 * time.Second})
}

func TestBatchCountsAddUp(t *testing.T) {
	for _, n := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			o := newTestOrchestrator(&stubGenerator{}, &stubRenderer{})
			b, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", n, nil)
			if err != nil {
				t.Fatalf("GenerateBatch failed: %v", err)
			}
			if got := b.SucceededCount() + b.FailedCount(); got != n {
				t.Errorf("succeeded+failed = %d, expected %d", got, n)
			}
		})
	}
}

func TestFailureIsolation(t *testing.T) {
	// Slot 1 (the second of four) hits a quota error; siblings must be
	// unaffected.
	gen := &stubGenerator{failOn: map[string]error{
		design.StyleLabel(1): fmt.Errorf("%w: rate limited", design.ErrQuotaExceeded),
	}}
	o := newTestOrchestrator(gen, &stubRenderer{})

	b, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 4, nil)
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}

	if b.SucceededCount() != 3 {
		t.Errorf("Expected 3 successes, got %d", b.SucceededCount())
	}
	if b.FailedCount() != 1 {
		t.Errorf("Expected 1 failure, got %d", b.FailedCount())
	}
	failed := b.Variants[1]
	if failed.State != design.StateFailed || failed.Failure != design.FailureQuotaExceeded {
		t.Errorf("Slot 1 should fail with quota, got state=%s kind=%s", failed.State, failed.Failure)
	}
}

func TestAllVariantsFailed(t *testing.T) {
	ren := &stubRenderer{err: fmt.Errorf("%w", design.ErrRenderTimeout)}
	o := newTestOrchestrator(&stubGenerator{}, ren)

	b, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 3, nil)
	if !errors.Is(err, design.ErrAllVariantsFailed) {
		t.Fatalf("Expected ErrAllVariantsFailed, got %v", err)
	}
	if b.FailedCount() != 3 {
		t.Errorf("Expected 3 failures, got %d", b.FailedCount())
	}
	if QuotaExhausted(b) {
		t.Error("Render timeouts must not report as quota exhaustion")
	}
}

func TestQuotaExhausted(t *testing.T) {
	gen := &stubGenerator{failOn: map[string]error{
		"Creative direction": fmt.Errorf("%w", design.ErrQuotaExceeded),
	}}
	o := newTestOrchestrator(gen, &stubRenderer{})

	b, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 2, nil)
	if !errors.Is(err, design.ErrAllVariantsFailed) {
		t.Fatalf("Expected ErrAllVariantsFailed, got %v", err)
	}
	if !QuotaExhausted(b) {
		t.Error("Batch drained by quota errors should report quota exhaustion")
	}
}

func TestBatchTimeout(t *testing.T) {
	gen := &stubGenerator{delay: time.Second}
	o := New(gen, &stubRenderer{}, Options{MaxGenerations: 4, MaxRenders: 2, Timeout: 30 * time.Millisecond})

	_, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 2, nil)
	if !errors.Is(err, design.ErrRequestTimeout) {
		t.Fatalf("Expected ErrRequestTimeout, got %v", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should recognize the batch timeout")
	}
}

func TestCarouselBindsImagePerSlot(t *testing.T) {
	req := design.GenerationRequest{Carousel: []design.ImageAsset{
		{Data: []byte("img-a"), MimeType: "image/png"},
		{Data: []byte("img-b"), MimeType: "image/png"},
		{Data: []byte("img-c"), MimeType: "image/png"},
	}}
	o := newTestOrchestrator(&stubGenerator{}, &stubRenderer{})

	b, err := o.GenerateBatch(context.Background(), req, "prompt", 3, nil)
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}

	// The stub generator echoes the reference image into the markup, so
	// slot i's markup proves which image it was bound to.
	for i, want := range []string{"img-a", "img-b", "img-c"} {
		if b.Variants[i].HTML != want {
			t.Errorf("Slot %d bound to %q, expected %q", i, b.Variants[i].HTML, want)
		}
	}
}

func TestRenderConcurrencyCeiling(t *testing.T) {
	ren := &stubRenderer{}
	o := New(&stubGenerator{}, ren, Options{MaxGenerations: 16, MaxRenders: 2, Timeout: 5 * time.Second})

	if _, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 8, nil); err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}
	if max := ren.maxGlimpse.Load(); max > 2 {
		t.Errorf("Observed %d concurrent renders, ceiling is 2", max)
	}
}

func TestDistinctStyleLabels(t *testing.T) {
	o := newTestOrchestrator(&stubGenerator{}, &stubRenderer{})
	b, err := o.GenerateBatch(context.Background(), design.GenerationRequest{}, "prompt", 4, nil)
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}

	seen := map[string]bool{}
	for _, v := range b.Variants {
		if seen[v.StyleLabel] {
			t.Errorf("Duplicate style label %q within a small batch", v.StyleLabel)
		}
		seen[v.StyleLabel] = true
	}
}
