package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// UntitledPlaceholder is the title of pages without <title> or og:title.
const UntitledPlaceholder = "Untitled"

// Title returns the first <title>, then og:title, then UntitledPlaceholder.
func Title(doc *goquery.Document) string {
	if title := CleanText(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og := metaContent(doc, "property", "og:title"); og != "" {
		return og
	}
	return UntitledPlaceholder
}

// MetaDescription returns the description meta tag, falling back to
// og:description.
func MetaDescription(doc *goquery.Document) string {
	if desc := metaContent(doc, "name", "description"); desc != "" {
		return desc
	}
	return metaContent(doc, "property", "og:description")
}

// MetaKeywords returns the keywords meta tag.
func MetaKeywords(doc *goquery.Document) string {
	return metaContent(doc, "name", "keywords")
}

// Headings collects h1..h6 texts in document order. Empty headings and empty
// levels are left out.
func Headings(doc *goquery.Document) scraper.HeadingMap {
	headings := scraper.HeadingMap{}
	for level := 1; level <= 6; level++ {
		tag := "h" + strconv.Itoa(level)
		var texts []string
		doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
			if text := CleanText(sel.Text()); text != "" {
				texts = append(texts, text)
			}
		})
		if len(texts) > 0 {
			headings[tag] = texts
		}
	}
	return headings
}

func metaContent(doc *goquery.Document, attr, value string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(sel.AttrOr(attr, "")), value) {
			return true
		}
		content = CleanText(sel.AttrOr("content", ""))
		return content == ""
	})
	return content
}
