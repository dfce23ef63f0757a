package extract

import (
	"fmt"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// CustomFields evaluates every selector in spec against doc. A field whose
// selector matches nothing, fails to compile or panics gets an empty slice;
// failures are logged and do not affect sibling fields.
func CustomFields(doc *goquery.Document, spec scraper.SelectorSpec, logger *zap.Logger) map[string][]string {
	if len(spec) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string][]string, len(spec))
	for _, name := range names {
		values, err := selectTexts(doc, spec[name])
		if err != nil {
			logger.Warn("custom selector failed",
				zap.String("field", name),
				zap.String("selector", spec[name]),
				zap.Error(err),
			)
			values = []string{}
		}
		fields[name] = values
	}
	return fields
}

func selectTexts(doc *goquery.Document, selector string) (values []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			values = nil
			err = fmt.Errorf("evaluate selector: %v", rec)
		}
	}()
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector: %w", err)
	}
	values = []string{}
	doc.FindMatcher(matcher).Each(func(_ int, sel *goquery.Selection) {
		values = append(values, CleanText(sel.Text()))
	})
	return values, nil
}
