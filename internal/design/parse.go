package design

import (
	"encoding/json"
	"fmt"
	"strings"
)

// A parser attempts to extract design markup from a raw model response.
// Parsers are tried in order; the first success wins.
type parser func(string) (Markup, bool)

var parsers = []parser{parseJSONObject, parseBareHTML}

// ParseMarkup extracts markup from the raw response text. It fails with
// ErrMalformedResponse when no strategy succeeds.
func ParseMarkup(raw string) (Markup, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	for _, parse := range parsers {
		if m, ok := parse(cleaned); ok {
			return m, nil
		}
	}
	return Markup{}, fmt.Errorf("%w: %d bytes of unparseable output", ErrMalformedResponse, len(raw))
}

// parseJSONObject locates the outermost JSON object in the text and
// decodes the {htmlContent, cssStyles} contract.
func parseJSONObject(s string) (Markup, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return Markup{}, false
	}

	var m Markup
	if err := json.Unmarshal([]byte(s[start:end+1]), &m); err != nil {
		return Markup{}, false
	}
	if strings.TrimSpace(m.HTML) == "" {
		return Markup{}, false
	}
	return m, true
}

// parseBareHTML falls back to scanning for a top-level markup tag when
// the model ignored the JSON contract and answered with raw HTML.
func parseBareHTML(s string) (Markup, bool) {
	for _, tag := range []string{"<html", "<body", "<div", "<section", "<main"} {
		idx := strings.Index(strings.ToLower(s), tag)
		if idx < 0 {
			continue
		}
		html := strings.TrimSpace(s[idx:])
		if html == "" {
			continue
		}
		return Markup{HTML: html, CSS: extractStyleBlock(html)}, true
	}
	return Markup{}, false
}

// extractStyleBlock pulls the contents of an inline <style> element so
// downstream document assembly treats bare-HTML responses the same as
// structured ones.
func extractStyleBlock(html string) string {
	lower := strings.ToLower(html)
	open := strings.Index(lower, "<style")
	if open < 0 {
		return ""
	}
	openEnd := strings.IndexByte(lower[open:], '>')
	if openEnd < 0 {
		return ""
	}
	rest := open + openEnd + 1
	closeIdx := strings.Index(lower[rest:], "</style>")
	if closeIdx < 0 {
		return ""
	}
	return strings.TrimSpace(html[rest : rest+closeIdx])
}

// stripCodeFence removes a surrounding Markdown code fence, with or
// without a language tag.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line (e.g. "json").
		first := strings.TrimSpace(s[:nl])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}<>") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
