package extract

import (
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Assembler runs every extractor over one document and merges the results
// into a PageRecord.
type Assembler struct {
	logger *zap.Logger
	clock  scraper.Clock
}

// NewAssembler builds an Assembler. A nil clock uses UTC wall time.
func NewAssembler(logger *zap.Logger, clock scraper.Clock) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{logger: logger, clock: clock}
}

// Assemble extracts a success record from doc. requestURL is the URL the
// caller asked for; links and images resolve against doc.FinalURL. A failing
// extractor leaves its field empty and is only logged.
func (a *Assembler) Assemble(requestURL string, doc scraper.FetchedDocument, opts scraper.Options) scraper.PageRecord {
	opts = opts.Normalize()
	tree, encoding := Parse(doc.Body, contentType(doc))
	base := baseURL(doc.FinalURL, requestURL)
	a.logger.Debug("document parsed",
		zap.String("url", requestURL),
		zap.String("encoding", encoding),
		zap.Int("bytes", len(doc.Body)),
	)

	record := scraper.PageRecord{
		URL:             requestURL,
		Title:           safely(a, "title", "", func() string { return Title(tree) }),
		MetaDescription: safely(a, "meta_description", "", func() string { return MetaDescription(tree) }),
		MetaKeywords:    safely(a, "meta_keywords", "", func() string { return MetaKeywords(tree) }),
		Headings:        safely(a, "headings", scraper.HeadingMap{}, func() scraper.HeadingMap { return Headings(tree) }),
		Links: safely(a, "links", []scraper.LinkRecord{}, func() []scraper.LinkRecord {
			return Links(tree, base, opts.MaxLinks)
		}),
		Images: safely(a, "images", []scraper.ImageRecord{}, func() []scraper.ImageRecord {
			return Images(tree, base, opts.MaxImages)
		}),
		TextContent:    safely(a, "text_content", "", func() string { return MainText(tree, opts.TextLength) }),
		PageSize:       len(doc.Body),
		StatusCode:     doc.StatusCode,
		ContentType:    servedContentType(doc),
		LastModified:   doc.Headers.Get("Last-Modified"),
		ResponseTimeMs: doc.Elapsed.Milliseconds(),
		Rendered:       doc.Rendered,
		ScrapedAt:      a.now(),
	}
	if record.URL == "" {
		record.URL = doc.FinalURL
	}
	if len(opts.CustomSelectors) > 0 {
		record.CustomFields = safely(a, "custom_fields", map[string][]string{}, func() map[string][]string {
			return CustomFields(tree, opts.CustomSelectors, a.logger)
		})
	}
	return record
}

func (a *Assembler) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}

func safely[T any](a *Assembler, name string, fallback T, fn func() T) (out T) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("extractor failed", zap.String("extractor", name), zap.Any("panic", rec))
			metrics.ObserveExtractorFailure(name)
			out = fallback
		}
	}()
	return fn()
}

// contentType is the type the body bytes are encoded in now, which differs
// from the served header when the fetcher already transcoded the body.
func contentType(doc scraper.FetchedDocument) string {
	if doc.ContentType != "" {
		return doc.ContentType
	}
	return doc.Headers.Get("Content-Type")
}

func baseURL(candidates ...string) *url.URL {
	for _, raw := range candidates {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() && u.Host != "" {
			return u
		}
	}
	return nil
}

func servedContentType(doc scraper.FetchedDocument) string {
	if served := doc.Headers.Get("Content-Type"); served != "" {
		return served
	}
	return doc.ContentType
}
