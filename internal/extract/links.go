package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// LinkPlaceholder is the text of links with no text, title or aria-label.
const LinkPlaceholder = "link without text"

const maxLinkTextRunes = 100

// Links returns up to limit anchors in document order, resolved against base.
// Fragment-only and javascript: targets are skipped. A link is internal only
// when its host equals the base host exactly.
func Links(doc *goquery.Document, base *url.URL, limit int) []scraper.LinkRecord {
	links := make([]scraper.LinkRecord, 0)
	if limit <= 0 {
		return links
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if skipHref(href) {
			return true
		}
		resolved, ok := resolveURL(base, href)
		if !ok {
			return true
		}
		title := CleanText(sel.AttrOr("title", ""))
		text := CleanText(sel.Text())
		if text == "" {
			text = title
		}
		if text == "" {
			text = CleanText(sel.AttrOr("aria-label", ""))
		}
		if text == "" {
			text = LinkPlaceholder
		}
		links = append(links, scraper.LinkRecord{
			Text:       Truncate(text, maxLinkTextRunes),
			URL:        resolved.String(),
			IsInternal: isSameHost(resolved, base),
			Title:      title,
		})
		return len(links) < limit
	})
	return links
}

// Images returns up to limit images in document order. The source falls back
// to lazy-load attributes; images without any source are skipped. Attribute
// values are copied as written.
func Images(doc *goquery.Document, base *url.URL, limit int) []scraper.ImageRecord {
	images := make([]scraper.ImageRecord, 0)
	if limit <= 0 {
		return images
	}
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := firstAttr(sel, "src", "data-src", "data-lazy-src")
		if src == "" {
			return true
		}
		resolved, ok := resolveURL(base, src)
		if !ok {
			return true
		}
		images = append(images, scraper.ImageRecord{
			Src:     resolved.String(),
			Alt:     sel.AttrOr("alt", ""),
			Title:   sel.AttrOr("title", ""),
			Width:   sel.AttrOr("width", ""),
			Height:  sel.AttrOr("height", ""),
			Loading: sel.AttrOr("loading", ""),
			Class:   sel.AttrOr("class", ""),
		})
		return len(images) < limit
	})
	return images
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(href), "javascript:")
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(sel.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

// resolveURL resolves ref against base. Without a base only absolute
// references resolve.
func resolveURL(base *url.URL, ref string) (*url.URL, bool) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if base == nil {
		return parsed, parsed.IsAbs()
	}
	return base.ResolveReference(parsed), true
}

// isSameHost compares host and port. A port equal to the scheme's default is
// ignored; subdomains count as different hosts.
func isSameHost(u, base *url.URL) bool {
	if u == nil || base == nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(hostKey(u), hostKey(base))
}

func hostKey(u *url.URL) string {
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return u.Hostname()
	}
	return u.Hostname() + ":" + port
}
