package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// trackingScraper records how many scrapes run at once, overall and per
// origin.
type trackingScraper struct {
	mu           sync.Mutex
	inFlight     map[string]int
	maxPerOrigin int
	total        int
	maxTotal     int
	order        map[string][]string
	delay        time.Duration
}

func newTrackingScraper(delay time.Duration) *trackingScraper {
	return &trackingScraper{
		inFlight: make(map[string]int),
		order:    make(map[string][]string),
		delay:    delay,
	}
}

func (s *trackingScraper) Scrape(ctx context.Context, rawURL string, _ scraper.Options) scraper.PageRecord {
	origin := ratelimit.Origin(rawURL)
	s.mu.Lock()
	s.inFlight[origin]++
	s.total++
	s.maxPerOrigin = max(s.maxPerOrigin, s.inFlight[origin])
	s.maxTotal = max(s.maxTotal, s.total)
	s.order[origin] = append(s.order[origin], rawURL)
	s.mu.Unlock()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.inFlight[origin]--
	s.total--
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return scraper.FailureRecord(rawURL, err, time.Time{})
	}
	return scraper.PageRecord{URL: rawURL, Title: "title of " + rawURL}
}

func TestScrapeAllPreservesInputOrder(t *testing.T) {
	t.Parallel()
	urls := []string{
		"https://a.example/1",
		"https://b.example/1",
		"https://a.example/2",
		"not a url",
		"https://c.example/1",
		"https://b.example/2",
	}
	s := newTrackingScraper(5 * time.Millisecond)
	d := New(s, 3, nil)

	records := d.ScrapeAll(context.Background(), urls, scraper.DefaultOptions())

	require.Len(t, records, len(urls))
	for i, raw := range urls {
		assert.Equal(t, raw, records[i].URL)
	}
}

func TestScrapeAllSerializesSameOrigin(t *testing.T) {
	t.Parallel()
	var urls []string
	for i := range 4 {
		urls = append(urls, fmt.Sprintf("https://a.example/%d", i))
		urls = append(urls, fmt.Sprintf("https://b.example/%d", i))
	}
	s := newTrackingScraper(10 * time.Millisecond)
	d := New(s, 4, nil)

	d.ScrapeAll(context.Background(), urls, scraper.DefaultOptions())

	assert.Equal(t, 1, s.maxPerOrigin)
	assert.Equal(t, 2, s.maxTotal, "distinct origins should run in parallel")
	assert.Equal(t, []string{
		"https://a.example/0", "https://a.example/1", "https://a.example/2", "https://a.example/3",
	}, s.order["https://a.example"])
}

func TestScrapeAllRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()
	var urls []string
	for i := range 6 {
		urls = append(urls, fmt.Sprintf("https://site%d.example/", i))
	}
	s := newTrackingScraper(10 * time.Millisecond)
	d := New(s, 2, nil)

	d.ScrapeAll(context.Background(), urls, scraper.DefaultOptions())

	assert.LessOrEqual(t, s.maxTotal, 2)
}

func TestScrapeAllCanceledStillReturnsOneRecordPerURL(t *testing.T) {
	t.Parallel()
	urls := []string{"https://a.example/1", "https://a.example/2", "https://b.example/1"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(newTrackingScraper(time.Second), 0, nil)

	records := d.ScrapeAll(ctx, urls, scraper.DefaultOptions())

	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, urls[i], record.URL)
		assert.False(t, record.IsSuccess())
	}
}

func TestScrapeAllEmpty(t *testing.T) {
	t.Parallel()
	d := New(newTrackingScraper(0), 2, nil)
	assert.Empty(t, d.ScrapeAll(context.Background(), nil, scraper.DefaultOptions()))
}

func TestGroupByOrigin(t *testing.T) {
	t.Parallel()
	groups := groupByOrigin([]string{
		"https://A.example/x",
		"http://a.example/y",
		"https://a.example/z",
	})
	assert.Equal(t, [][]int{{0, 2}, {1}}, groups)
}
