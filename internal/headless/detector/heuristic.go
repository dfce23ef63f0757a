// Package detector decides when a statically fetched page should be
// re-rendered in a headless browser.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/page-scraper/internal/extract"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	defaultBodyLengthThreshold = 2048
	defaultMinTextRunes        = 200
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold bounds the size of pages judged by script density.
	BodyLengthThreshold int
	// MinTextRunes is the visible text above which a page is never promoted.
	MinTextRunes int
}

// NewHeuristic creates a new detector. A non-positive threshold selects the
// default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextRunes: defaultMinTextRunes}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

var jsRequiredPhrases = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
	"requires javascript",
}

// ShouldPromote reports whether doc looks like a script shell whose content
// only appears after rendering.
func (h *Heuristic) ShouldPromote(doc scraper.FetchedDocument) bool {
	if doc.Rendered || doc.StatusCode < http.StatusOK || doc.StatusCode >= http.StatusMultipleChoices {
		return false
	}
	if !isHTML(doc) {
		return false
	}
	body := doc.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if visibleTextRunes(doc) >= h.minTextRunes() {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	for _, phrase := range jsRequiredPhrases {
		if bytes.Contains(lower, []byte(phrase)) {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptDensityHigh(string(lower))
}

func (h *Heuristic) minTextRunes() int {
	if h.MinTextRunes > 0 {
		return h.MinTextRunes
	}
	return defaultMinTextRunes
}

func isHTML(doc scraper.FetchedDocument) bool {
	ct := doc.ContentType
	if ct == "" {
		ct = doc.Headers.Get("Content-Type")
	}
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func visibleTextRunes(doc scraper.FetchedDocument) int {
	tree, _ := extract.Parse(doc.Body, doc.ContentType)
	body := tree.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return utf8.RuneCountInString(extract.CleanText(body.Text()))
}

// scriptDensityHigh reports whether script elements make up at least a
// quarter of the (lowercased) document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
