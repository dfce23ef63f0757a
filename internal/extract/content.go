package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	noiseSelector = "script, style, nav, header, footer, aside, noscript"
	// Fragments must be longer than three runes to survive.
	minFragmentRunes = 4
)

// contentSelectors are tried in order to find the main content container.
var contentSelectors = []string{
	"main",
	"[role=main]",
	"article",
	".content",
	".main-content",
	".post-content",
	"#content",
	".entry-content",
}

// MainText returns the readable text of the main content container, at most
// limit runes long. Non-content elements are removed from a copy of doc, so
// doc itself is left untouched.
func MainText(doc *goquery.Document, limit int) string {
	if limit <= 0 {
		return ""
	}
	work := goquery.CloneDocument(doc)
	work.Find(noiseSelector).Remove()

	container := mainContainer(work)
	var raw strings.Builder
	for _, n := range container.Nodes {
		collectText(n, &raw)
	}

	var fragments []string
	for _, line := range strings.Split(raw.String(), "\n") {
		if frag := CleanText(line); runeLen(frag) >= minFragmentRunes {
			fragments = append(fragments, frag)
		}
	}
	return Truncate(strings.Join(fragments, " "), limit)
}

func mainContainer(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

// collectText joins text nodes with a space, keeping their newlines.
func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
