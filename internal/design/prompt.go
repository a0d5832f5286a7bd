package design

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest marks input validation failures surfaced before any
// provider is invoked.
var ErrInvalidRequest = errors.New("invalid generation request")

const maxVariants = 16

// baseInstruction is the fixed contract the language model is held to.
// Constraints like "no rotated text" are instruction-level only; the
// renderer additionally forces zero transforms on text as a backstop.
const baseInstruction = `You are a professional graphic designer. Create a single self-contained design as HTML and CSS.
Respond with exactly one JSON object of the form {"htmlContent": "...", "cssStyles": "..."}.
Rules:
- No external resources: no remote images, fonts loaded by URL, scripts, or iframes.
- No interactive controls (buttons, inputs, links) and no animations.
- Never rotate or skew text. Text must remain horizontal.
- The design must fill the full canvas edge to edge.`

var tierDirectives = map[QualityTier]string{
	TierBasic:    "Produce a clean, simple composition with strong legibility.",
	TierPremium:  "Produce a polished, modern composition with refined typography and balanced whitespace.",
	TierElite:    "Produce an art-directed composition with layered depth, deliberate color harmony and premium typography.",
	TierUltimate: "Produce an award-grade composition: sophisticated grid, nuanced color grading, expressive but controlled typography.",
}

// styleLabels rotate across variant slots so every design in a batch gets
// a distinct creative direction label.
var styleLabels = []string{
	"Bold & Modern",
	"Minimal & Clean",
	"Elegant & Classic",
	"Vibrant & Playful",
	"Editorial",
	"Organic & Warm",
	"Geometric",
	"Retro",
}

// StyleLabel returns the label for variant slot i.
func StyleLabel(i int) string {
	return styleLabels[i%len(styleLabels)]
}

// Compose merges the brief, brand attributes, template metadata and
// quality tier into the final generation prompt and resolves the variant
// count. Pure: no I/O, no side effects. The only failure mode is input
// validation.
func Compose(req GenerationRequest, tmpl *Template) (string, int, error) {
	brief := strings.TrimSpace(req.Brief)
	if brief == "" && tmpl == nil {
		return "", 0, fmt.Errorf("%w: brief is empty and no template selected", ErrInvalidRequest)
	}

	n := req.Tier.VariantCount()
	if req.Count > 0 {
		n = req.Count
	}
	if n < 1 || n > maxVariants {
		return "", 0, fmt.Errorf("%w: variant count %d out of range [1,%d]", ErrInvalidRequest, n, maxVariants)
	}

	var b strings.Builder
	b.WriteString(baseInstruction)

	vp := req.AspectRatio.Viewport()
	fmt.Fprintf(&b, "\n\nCanvas: %dx%d pixels (%s).", vp.Width, vp.Height, req.AspectRatio)

	if tmpl != nil {
		b.WriteString("\n\nTemplate direction: ")
		b.WriteString(tmpl.BasePrompt)
	}

	if brief != "" {
		b.WriteString("\n\nCreative brief: ")
		b.WriteString(brief)
	}

	if req.Brand != nil && !req.Brand.Empty() {
		b.WriteString("\n\nBrand directives:")
		writeBrand(&b, *req.Brand)
	}

	if d, ok := tierDirectives[req.Tier]; ok {
		b.WriteString("\n\nQuality: ")
		b.WriteString(d)
	} else {
		b.WriteString("\n\nQuality: ")
		b.WriteString(tierDirectives[TierBasic])
	}

	if req.Logo != nil {
		b.WriteString("\n\nA logo is provided. Reserve a spot for it by including an <img id=\"brand-logo\"> element; its source is injected at render time.")
	}
	if req.Background != nil || req.GenerateBackground {
		b.WriteString("\n\nA page background image is supplied separately. Keep foreground elements readable against a photographic background.")
	}

	return b.String(), n, nil
}

func writeBrand(b *strings.Builder, kit BrandKit) {
	if kit.PrimaryColor != "" {
		fmt.Fprintf(b, "\n- Primary color: %s", kit.PrimaryColor)
	}
	if kit.SecondaryColor != "" {
		fmt.Fprintf(b, "\n- Secondary color: %s", kit.SecondaryColor)
	}
	if kit.AccentColor != "" {
		fmt.Fprintf(b, "\n- Accent color: %s", kit.AccentColor)
	}
	if kit.HeadingFont != "" {
		fmt.Fprintf(b, "\n- Heading font: %s", kit.HeadingFont)
	}
	if kit.BodyFont != "" {
		fmt.Fprintf(b, "\n- Body font: %s", kit.BodyFont)
	}
	if kit.Voice != "" {
		fmt.Fprintf(b, "\n- Brand voice: %s", kit.Voice)
	}
}
