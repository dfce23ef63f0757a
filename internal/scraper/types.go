package scraper

import (
	"net/http"
	"time"
)

// FetchRequest is the immutable, per-call description of one fetch.
type FetchRequest struct {
	URL       string
	Headers   http.Header
	UserAgent string
	Timeout   time.Duration
}

// FetchedDocument is the raw result of a fetch. Extraction only reads it.
type FetchedDocument struct {
	FinalURL    string
	Body        []byte
	StatusCode  int
	Headers     http.Header
	ContentType string
	Elapsed     time.Duration
	Rendered    bool
}

// LinkRecord describes one anchor found on a page.
type LinkRecord struct {
	Text       string `json:"text"`
	URL        string `json:"url"`
	IsInternal bool   `json:"isInternal"`
	Title      string `json:"title"`
}

// ImageRecord describes one image found on a page. Width and Height are kept
// as written in the markup.
type ImageRecord struct {
	Src     string `json:"src"`
	Alt     string `json:"alt"`
	Title   string `json:"title"`
	Width   string `json:"width,omitempty"`
	Height  string `json:"height,omitempty"`
	Loading string `json:"loading,omitempty"`
	Class   string `json:"class,omitempty"`
}

// HeadingMap maps "h1".."h6" to heading texts in document order.
type HeadingMap map[string][]string

// SelectorSpec maps a caller-chosen field name to a CSS selector.
type SelectorSpec map[string]string

// PageRecord is the outcome of scraping one URL. A record with Error set is a
// failure record and carries no extracted fields.
type PageRecord struct {
	URL             string              `json:"url"`
	Title           string              `json:"title,omitempty"`
	MetaDescription string              `json:"metaDescription,omitempty"`
	MetaKeywords    string              `json:"metaKeywords,omitempty"`
	Headings        HeadingMap          `json:"headings,omitempty"`
	Links           []LinkRecord        `json:"links,omitempty"`
	Images          []ImageRecord       `json:"images,omitempty"`
	TextContent     string              `json:"textContent,omitempty"`
	PageSize        int                 `json:"pageSize,omitempty"`
	StatusCode      int                 `json:"statusCode,omitempty"`
	ContentType     string              `json:"contentType,omitempty"`
	LastModified    string              `json:"lastModified,omitempty"`
	ResponseTimeMs  int64               `json:"responseTimeMs,omitempty"`
	Rendered        bool                `json:"rendered,omitempty"`
	CustomFields    map[string][]string `json:"customFields,omitempty"`
	ScrapedAt       time.Time           `json:"scrapedAt"`
	Error           string              `json:"error,omitempty"`
}

// IsSuccess reports whether the record carries extracted data.
func (r PageRecord) IsSuccess() bool {
	return r.Error == ""
}

// FailureRecord builds the failure shape for rawURL.
func FailureRecord(rawURL string, err error, at time.Time) PageRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return PageRecord{
		URL:       rawURL,
		ScrapedAt: at,
		Error:     msg,
	}
}
