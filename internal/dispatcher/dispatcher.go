// Package dispatcher fans a batch of URLs out over the worker.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/page-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Scraper scrapes one URL into a record. *worker.Worker satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string, opts scraper.Options) scraper.PageRecord
}

// Dispatcher runs origins in parallel and each origin's URLs in order.
type Dispatcher struct {
	scraper     Scraper
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. concurrency bounds how many origins are scraped
// at once; values below 1 mean 1.
func New(s Scraper, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{scraper: s, concurrency: concurrency, logger: logger}
}

// ScrapeAll returns exactly one record per URL, in input order. Failures
// are carried in the records; a canceled ctx yields failure records for
// the URLs not yet scraped.
func (d *Dispatcher) ScrapeAll(ctx context.Context, urls []string, opts scraper.Options) []scraper.PageRecord {
	records := make([]scraper.PageRecord, len(urls))
	if len(urls) == 0 {
		return records
	}
	start := time.Now()
	groups := groupByOrigin(urls)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, indexes := range groups {
		g.Go(func() error {
			for _, i := range indexes {
				records[i] = d.scraper.Scrape(ctx, urls[i], opts)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("batch finished",
		zap.Int("urls", len(urls)),
		zap.Int("origins", len(groups)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return records
}

// groupByOrigin keeps first-seen origin order and input order within each
// origin.
func groupByOrigin(urls []string) [][]int {
	positions := make(map[string]int)
	var groups [][]int
	for i, raw := range urls {
		origin := ratelimit.Origin(raw)
		pos, ok := positions[origin]
		if !ok {
			pos = len(groups)
			positions[origin] = pos
			groups = append(groups, nil)
		}
		groups[pos] = append(groups[pos], i)
	}
	return groups
}
