package design

import (
	"fmt"
	"time"
)

// AspectRatio selects the output canvas shape. Every ratio maps to a fixed
// pixel viewport so repeated renders of the same markup produce
// identically sized bitmaps.
type AspectRatio string

const (
	AspectSquare    AspectRatio = "square"
	AspectPortrait  AspectRatio = "portrait"
	AspectStory     AspectRatio = "story"
	AspectLandscape AspectRatio = "landscape"
	AspectBanner    AspectRatio = "banner"
)

// Viewport is the pixel size a design is rendered at.
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

var viewports = map[AspectRatio]Viewport{
	AspectSquare:    {Width: 1080, Height: 1080, Scale: 1},
	AspectPortrait:  {Width: 1080, Height: 1350, Scale: 1},
	AspectStory:     {Width: 1080, Height: 1920, Scale: 1},
	AspectLandscape: {Width: 1920, Height: 1080, Scale: 1},
	AspectBanner:    {Width: 1200, Height: 628, Scale: 1},
}

// ParseAspectRatio maps the wire value to an AspectRatio, defaulting to
// square when empty.
func ParseAspectRatio(s string) (AspectRatio, error) {
	if s == "" {
		return AspectSquare, nil
	}
	ar := AspectRatio(s)
	if _, ok := viewports[ar]; !ok {
		return "", fmt.Errorf("unknown aspect ratio %q", s)
	}
	return ar, nil
}

// Viewport returns the fixed render dimensions for the ratio.
func (a AspectRatio) Viewport() Viewport {
	if vp, ok := viewports[a]; ok {
		return vp
	}
	return viewports[AspectSquare]
}

// QualityTier controls how many variants a generation request produces by
// default and which quality directives reach the prompt.
type QualityTier string

const (
	TierBasic    QualityTier = "basic"
	TierPremium  QualityTier = "premium"
	TierElite    QualityTier = "elite"
	TierUltimate QualityTier = "ultimate"
)

// VariantCount returns the number of design variants the tier generates.
func (t QualityTier) VariantCount() int {
	switch t {
	case TierPremium:
		return 4
	case TierElite:
		return 8
	case TierUltimate:
		return 16
	default:
		return 1
	}
}

// BrandKit carries brand attributes merged into the generation prompt.
type BrandKit struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	AccentColor    string `json:"accent_color"`
	HeadingFont    string `json:"heading_font"`
	BodyFont       string `json:"body_font"`
	Voice          string `json:"voice"`
}

// Empty reports whether no brand attribute is set.
func (b BrandKit) Empty() bool {
	return b == BrandKit{}
}

// ImageAsset is an uploaded or generated reference image.
type ImageAsset struct {
	Data     []byte
	MimeType string
}

// GenerationRequest is the fully parsed input of one design batch.
type GenerationRequest struct {
	UserID      string
	Brief       string
	TemplateID  string
	AspectRatio AspectRatio
	Tier        QualityTier
	// Count overrides the tier's default variant count when > 0.
	Count      int
	Brand      *BrandKit
	Background *ImageAsset
	// BackgroundURL names a remote image to fetch and inline as the
	// background when no upload is provided.
	BackgroundURL string
	Logo          *ImageAsset
	// Carousel binds one source image per variant slot. When set, slot i
	// uses Carousel[i] as its reference asset.
	Carousel []ImageAsset
	// GenerateBackground requests an AI-generated background as a
	// pre-step, billed separately.
	GenerateBackground bool
}

// Markup is the structured output of the content generator: the HTML
// body of a design plus its stylesheet.
type Markup struct {
	HTML string `json:"htmlContent"`
	CSS  string `json:"cssStyles"`
}

// VariantState is the lifecycle of one design slot. Terminal states
// (Succeeded, Failed) are final.
type VariantState string

const (
	StatePending    VariantState = "pending"
	StateGenerating VariantState = "generating"
	StateRendering  VariantState = "rendering"
	StateSucceeded  VariantState = "succeeded"
	StateFailed     VariantState = "failed"
)

// DesignVariant is one independently generated design within a batch.
// Immutable once terminal.
type DesignVariant struct {
	ID         string
	StyleLabel string
	Image      []byte
	HTML       string
	CSS        string
	State      VariantState
	// Failure classifies the error for failed variants.
	Failure FailureKind
	Err     error
}

// GenerationBatch aggregates the variants produced for one request.
type GenerationBatch struct {
	Variants  []DesignVariant
	CreatedAt time.Time
}

// Succeeded returns the successful variants in slot order.
func (b *GenerationBatch) Succeeded() []DesignVariant {
	var out []DesignVariant
	for _, v := range b.Variants {
		if v.State == StateSucceeded {
			out = append(out, v)
		}
	}
	return out
}

// SucceededCount counts variants that reached a rendered image.
func (b *GenerationBatch) SucceededCount() int {
	return len(b.Succeeded())
}

// FailedCount counts variants that terminated with a failure.
func (b *GenerationBatch) FailedCount() int {
	n := 0
	for _, v := range b.Variants {
		if v.State == StateFailed {
			n++
		}
	}
	return n
}

// Preview returns the first successful variant, the one shown to the user
// immediately while the rest of the suggestion set loads.
func (b *GenerationBatch) Preview() (DesignVariant, bool) {
	for _, v := range b.Variants {
		if v.State == StateSucceeded {
			return v, true
		}
	}
	return DesignVariant{}, false
}
