package render

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// noTransformCSS forces zero rotation on every text-bearing element. The
// generator is instructed not to rotate text, but that constraint is
// prompt-level only; this rule is the enforcement.
const noTransformCSS = `
h1, h2, h3, h4, h5, h6, p, span, a, li, td, th, label, blockquote, figcaption {
  transform: none !important;
  rotate: none !important;
  writing-mode: horizontal-tb !important;
}`

// assetTrackerJS counts every image on the page and flips a readiness
// flag once each has either loaded or errored. Gating on both callbacks
// means a single broken asset cannot hang the page.
const assetTrackerJS = `
(function () {
  var imgs = document.images;
  var total = imgs.length;
  var settled = 0;
  window.__assetsReady = total === 0;
  function settle() {
    settled++;
    if (settled >= total) { window.__assetsReady = true; }
  }
  for (var i = 0; i < total; i++) {
    if (imgs[i].complete) { settle(); }
    else {
      imgs[i].addEventListener('load', settle);
      imgs[i].addEventListener('error', settle);
    }
  }
})();`

// BuildDocument wraps generated markup in a complete page sized to the
// viewport. Background and logo assets are embedded as inlined data URLs,
// never external references, so the asset tracker sees every image and
// nothing races a network fetch.
func BuildDocument(m design.Markup, background, logo *design.ImageAsset, vp design.Viewport) (string, error) {
	var bodyStyle string
	if background != nil {
		uri, err := dataURL(background)
		if err != nil {
			return "", fmt.Errorf("embedding background: %w", err)
		}
		bodyStyle = fmt.Sprintf("background-image: url('%s'); background-size: cover; background-position: center;", uri)
	}

	var logoScript string
	if logo != nil {
		uri, err := dataURL(logo)
		if err != nil {
			return "", fmt.Errorf("embedding logo: %w", err)
		}
		logoScript = fmt.Sprintf(`
<script>
  var slot = document.getElementById('brand-logo');
  if (slot) { slot.src = '%s'; }
</script>`, uri)
	}

	html := m.HTML
	// A full document from the bare-HTML fallback path is inlined as-is;
	// fragment markup gets wrapped in the base page.
	if strings.Contains(strings.ToLower(html), "<html") {
		html = innerBody(html)
	}

	doc := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
html, body { margin: 0; padding: 0; width: %dpx; height: %dpx; overflow: hidden; }
body { %s }
%s
%s
</style>
</head>
<body>
%s
%s
<script>%s</script>
</body>
</html>`, vp.Width, vp.Height, bodyStyle, m.CSS, noTransformCSS, html, logoScript, assetTrackerJS)

	return doc, nil
}

// innerBody extracts the body contents of a full HTML document so it can
// be re-wrapped in the base page.
func innerBody(html string) string {
	lower := strings.ToLower(html)
	open := strings.Index(lower, "<body")
	if open < 0 {
		return html
	}
	openEnd := strings.IndexByte(lower[open:], '>')
	if openEnd < 0 {
		return html
	}
	start := open + openEnd + 1
	end := strings.Index(lower[start:], "</body>")
	if end < 0 {
		return html[start:]
	}
	return html[start : start+end]
}

func dataURL(asset *design.ImageAsset) (string, error) {
	if asset == nil || len(asset.Data) == 0 {
		return "", design.ErrAssetMissing
	}
	mime := asset.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(asset.Data)), nil
}
