package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

const fallbackEncoding = "windows-1252"

var utf8BOM = []byte("\xef\xbb\xbf")

// Parse decodes body to UTF-8 and builds a document tree. It never fails:
// markup that cannot be parsed yields an empty document. The returned string
// is the name of the encoding the body was decoded from.
func Parse(body []byte, contentType string) (*goquery.Document, string) {
	decoded, name := decode(body, contentType)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return emptyDocument(), name
	}
	return doc, name
}

func emptyDocument() *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(""))
	if err != nil {
		return goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return doc
}

func decode(body []byte, contentType string) ([]byte, string) {
	if len(body) == 0 {
		return body, "utf-8"
	}
	enc, name := resolveEncoding(body, contentType)
	if name == "utf-8" {
		return bytes.TrimPrefix(body, utf8BOM), name
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body, "utf-8"
	}
	return out, name
}

// resolveEncoding trusts a BOM or Content-Type charset unless the bytes
// contradict it, then a <meta> declaration, and sniffs the bytes otherwise.
func resolveEncoding(body []byte, contentType string) (encoding.Encoding, string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	validUTF8 := utf8.Valid(body)
	declaredUTF8 := name == "utf-8"

	switch {
	case certain && declaredUTF8 && validUTF8:
		return enc, name
	case certain && !declaredUTF8 && !(validUTF8 && hasNonASCII(body)):
		return enc, name
	case certain && !declaredUTF8:
		// Multi-byte UTF-8 sequences under a single-byte declaration.
		return encoding.Nop, "utf-8"
	case !certain && validUTF8:
		return encoding.Nop, "utf-8"
	case !certain && !declaredUTF8 && name != fallbackEncoding:
		return enc, name
	}
	return sniff(body)
}

func sniff(body []byte) (encoding.Encoding, string) {
	result, err := chardet.NewHtmlDetector().DetectBest(body)
	if err == nil && result != nil {
		if enc, name := charset.Lookup(result.Charset); enc != nil {
			return enc, name
		}
	}
	return charmap.Windows1252, fallbackEncoding
}

func hasNonASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
