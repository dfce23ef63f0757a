package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/page-scraper/internal/extract"
	"github.com/JakeFAU/page-scraper/internal/fetcher/headless"
	sha "github.com/JakeFAU/page-scraper/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/page-scraper/internal/publisher/memory"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/storage/memory"
)

const samplePage = `<html><head><title>Sample</title></head>
<body><main><p>Plenty of readable text lives here.</p><a href="/next">Next</a></main></body></html>`

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	requests []scraper.FetchRequest
	results  []fetchResult
}

type fetchResult struct {
	doc scraper.FetchedDocument
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, request scraper.FetchRequest) (scraper.FetchedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx].doc, f.results[idx].err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRobots struct {
	allowed bool
	delay   time.Duration
}

func (f fakeRobots) CheckAllowed(context.Context, string) bool { return f.allowed }

func (f fakeRobots) RequiredDelay(previous time.Time, delaySeconds float64) time.Duration {
	if previous.IsZero() || delaySeconds <= 0 {
		return 0
	}
	return f.delay
}

type fakeDetector struct{ promote bool }

func (f fakeDetector) ShouldPromote(scraper.FetchedDocument) bool { return f.promote }

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.slept = append(f.slept, d)
	f.mu.Unlock()
	return ctx.Err()
}

type failingRecordStore struct{}

func (failingRecordStore) SaveRecord(context.Context, scraper.PageRecord) error {
	return errors.New("db down")
}

type recordingLimiter struct{ urls []string }

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.urls = append(l.urls, rawURL)
	return nil
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func htmlDoc(finalURL string) scraper.FetchedDocument {
	return scraper.FetchedDocument{
		FinalURL:    finalURL,
		Body:        []byte(samplePage),
		StatusCode:  http.StatusOK,
		Headers:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		ContentType: "text/html; charset=utf-8",
		Elapsed:     20 * time.Millisecond,
	}
}

type harness struct {
	fetcher   *fakeFetcher
	renderer  *fakeFetcher
	records   *memory.RecordStore
	lastReqs  *memory.LastRequestStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	sleeper   *fakeSleeper
	limiter   *recordingLimiter
	deps      Dependencies
}

func newHarness(results ...fetchResult) *harness {
	h := &harness{
		fetcher:   &fakeFetcher{results: results},
		records:   memory.NewRecordStore(),
		lastReqs:  memory.NewLastRequestStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		sleeper:   &fakeSleeper{},
		limiter:   &recordingLimiter{},
	}
	clock := fakeClock{now: testNow}
	h.deps = Dependencies{
		Fetcher:      h.fetcher,
		Robots:       fakeRobots{allowed: true, delay: time.Second},
		Limiter:      h.limiter,
		LastRequests: h.lastReqs,
		Assembler:    extract.NewAssembler(nil, clock),
		Records:      h.records,
		Blobs:        h.blobs,
		Publisher:    h.publisher,
		Hasher:       sha.New(),
		Clock:        clock,
		Sleeper:      h.sleeper,
		Retry:        NewRetryPolicy(2, 10*time.Millisecond, 40*time.Millisecond),
	}
	return h
}

func (h *harness) worker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	w, err := New(h.deps, cfg, nil)
	require.NoError(t, err)
	return w
}

func TestScrapeSuccessPersistsAndPublishes(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/page")})
	w := h.worker(t, Config{UserAgent: "test-agent", FetchTimeout: 5 * time.Second, ArchiveRaw: true})

	record := w.Scrape(context.Background(), "https://example.com/page", scraper.DefaultOptions())

	require.True(t, record.IsSuccess(), record.Error)
	assert.Equal(t, "https://example.com/page", record.URL)
	assert.Equal(t, "Sample", record.Title)
	assert.Equal(t, len(samplePage), record.PageSize)
	assert.Equal(t, testNow, record.ScrapedAt)
	require.Len(t, record.Links, 1)
	assert.Equal(t, "https://example.com/next", record.Links[0].URL)

	require.Len(t, h.fetcher.requests, 1)
	assert.Equal(t, "test-agent", h.fetcher.requests[0].UserAgent)
	assert.Equal(t, 5*time.Second, h.fetcher.requests[0].Timeout)
	assert.Equal(t, []string{"https://example.com/page"}, h.limiter.urls)

	saved := h.records.Records()
	require.Len(t, saved, 1)
	assert.Equal(t, record.Title, saved[0].Title)

	digest, err := sha.New().Hash([]byte(samplePage))
	require.NoError(t, err)
	_, ok := h.blobs.Object("raw/example.com/" + digest + ".html")
	assert.True(t, ok, "raw body should be archived")

	messages := h.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, EventPageScraped, messages[0].Event)
	payload, ok := messages[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "memory://raw/example.com/"+digest+".html", payload["blob_uri"])

	last, err := h.lastReqs.LastRequest(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, testNow, last)
}

func TestScrapeRejectsInvalidURLs(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "ftp://example.com/file", "not a url", "https://"} {
		h := newHarness(fetchResult{doc: htmlDoc(raw)})
		w := h.worker(t, Config{})

		record := w.Scrape(context.Background(), raw, scraper.DefaultOptions())

		assert.False(t, record.IsSuccess(), raw)
		assert.True(t, strings.HasPrefix(record.Error, scraper.ErrInvalidURL.Error()), record.Error)
		assert.Equal(t, raw, record.URL)
		assert.Zero(t, h.fetcher.Calls())
		assert.Len(t, h.records.Records(), 1, "failure records are persisted too")
	}
}

func TestScrapeRobotsDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/private")})
	h.deps.Robots = fakeRobots{allowed: false}
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/private", scraper.DefaultOptions())

	assert.Equal(t, scraper.ErrPolicyDenied.Error(), record.Error)
	assert.Empty(t, record.Title)
	assert.Zero(t, h.fetcher.Calls())
}

func TestScrapeIgnoresRobotsWhenDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/private")})
	h.deps.Robots = fakeRobots{allowed: false}
	w := h.worker(t, Config{})
	opts := scraper.DefaultOptions()
	opts.RespectRobots = false

	record := w.Scrape(context.Background(), "https://example.com/private", opts)

	assert.True(t, record.IsSuccess(), record.Error)
	assert.Equal(t, 1, h.fetcher.Calls())
}

func TestScrapeWaitsForSameOriginDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/a")})
	require.NoError(t, h.lastReqs.MarkRequest(context.Background(), "https://example.com", testNow))
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/a", scraper.DefaultOptions())

	require.True(t, record.IsSuccess(), record.Error)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeper.slept)
}

func TestScrapeZeroDelaySkipsWait(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/a")})
	require.NoError(t, h.lastReqs.MarkRequest(context.Background(), "https://example.com", testNow))
	w := h.worker(t, Config{})
	opts := scraper.DefaultOptions()
	opts.DelaySeconds = 0

	record := w.Scrape(context.Background(), "https://example.com/a", opts)

	require.True(t, record.IsSuccess(), record.Error)
	assert.Empty(t, h.sleeper.slept)
}

func TestScrapeRetriesTemporaryFailures(t *testing.T) {
	t.Parallel()
	unavailable := &scraper.FetchError{URL: "https://example.com/", StatusCode: http.StatusServiceUnavailable}
	h := newHarness(
		fetchResult{err: unavailable},
		fetchResult{err: unavailable},
		fetchResult{doc: htmlDoc("https://example.com/")},
	)
	opts := scraper.DefaultOptions()
	opts.DelaySeconds = 0
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/", opts)

	require.True(t, record.IsSuccess(), record.Error)
	assert.Equal(t, 3, h.fetcher.Calls())
	assert.Len(t, h.sleeper.slept, 2, "one backoff per retry")
}

func TestScrapeRecordsSpans(t *testing.T) {
	t.Parallel()
	unavailable := &scraper.FetchError{URL: "https://example.com/", StatusCode: http.StatusServiceUnavailable}
	h := newHarness(
		fetchResult{err: unavailable},
		fetchResult{doc: htmlDoc("https://example.com/")},
	)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	h.deps.Tracer = tp.Tracer("test")
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/", scraper.DefaultOptions())
	require.True(t, record.IsSuccess(), record.Error)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "worker.fetch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "worker.fetch", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	root := spans[2]
	assert.Equal(t, "worker.Scrape", root.Name())
	assert.Equal(t, root.SpanContext().TraceID(), spans[0].SpanContext().TraceID())
	assert.Equal(t, root.SpanContext().SpanID(), spans[1].Parent().SpanID())
}

func TestScrapeGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	unavailable := &scraper.FetchError{URL: "https://example.com/", StatusCode: http.StatusServiceUnavailable}
	h := newHarness(fetchResult{err: unavailable})
	h.deps.Retry = NewRetryPolicy(1, time.Millisecond, time.Millisecond)
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/", scraper.DefaultOptions())

	assert.Equal(t, unavailable.Error(), record.Error)
	assert.Equal(t, 2, h.fetcher.Calls())
}

func TestScrapeDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	notFound := &scraper.FetchError{URL: "https://example.com/missing", StatusCode: http.StatusNotFound}
	h := newHarness(fetchResult{err: notFound})
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/missing", scraper.DefaultOptions())

	assert.Equal(t, "fetch https://example.com/missing: status 404 Not Found", record.Error)
	assert.Equal(t, 1, h.fetcher.Calls())
}

func TestScrapePromotesToHeadless(t *testing.T) {
	t.Parallel()
	shell := htmlDoc("https://example.com/app")
	shell.Body = []byte(`<html><body><div id="root"></div></body></html>`)
	rendered := htmlDoc("https://example.com/app")
	rendered.Rendered = true

	h := newHarness(fetchResult{doc: shell})
	h.renderer = &fakeFetcher{results: []fetchResult{{doc: rendered}}}
	h.deps.Renderer = h.renderer
	h.deps.Detector = fakeDetector{promote: true}
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/app", scraper.DefaultOptions())

	require.True(t, record.IsSuccess(), record.Error)
	assert.True(t, record.Rendered)
	assert.Equal(t, "Sample", record.Title)
	assert.Equal(t, 1, h.renderer.Calls())
}

func TestScrapePromotionWaitsItsTurn(t *testing.T) {
	t.Parallel()
	shell := htmlDoc("https://example.com/app")
	shell.Body = []byte(`<html><body><div id="root"></div></body></html>`)
	rendered := htmlDoc("https://example.com/app")
	rendered.Rendered = true

	h := newHarness(fetchResult{doc: shell})
	h.renderer = &fakeFetcher{results: []fetchResult{{doc: rendered}}}
	h.deps.Renderer = h.renderer
	h.deps.Detector = fakeDetector{promote: true}
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/app", scraper.DefaultOptions())

	require.True(t, record.Rendered, record.Error)
	assert.Len(t, h.limiter.urls, 2, "static fetch and render each pass the rate ceiling")
	assert.Equal(t, []time.Duration{time.Second}, h.sleeper.slept, "render waits the same-origin delay")
}

func TestScrapePromotionCanceledKeepsStaticResult(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/app")})
	h.renderer = &fakeFetcher{results: []fetchResult{{doc: htmlDoc("https://example.com/app")}}}
	h.deps.Renderer = h.renderer
	h.deps.Detector = fakeDetector{promote: true}
	w := h.worker(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	record := w.Scrape(ctx, "https://example.com/app", scraper.DefaultOptions())

	assert.False(t, record.Rendered)
	assert.Zero(t, h.renderer.Calls())
}

func TestScrapeKeepsStaticResultWhenRenderFails(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/app")})
	h.renderer = &fakeFetcher{results: []fetchResult{{err: errors.New("chrome crashed")}}}
	h.deps.Renderer = h.renderer
	h.deps.Detector = fakeDetector{promote: true}
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/app", scraper.DefaultOptions())

	require.True(t, record.IsSuccess(), record.Error)
	assert.False(t, record.Rendered)
	assert.Equal(t, "Sample", record.Title)
}

func TestScrapeRenderModes(t *testing.T) {
	t.Parallel()
	rendered := htmlDoc("https://example.com/")
	rendered.Rendered = true

	t.Run("never skips promotion", func(t *testing.T) {
		t.Parallel()
		h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
		h.renderer = &fakeFetcher{results: []fetchResult{{doc: rendered}}}
		h.deps.Renderer = h.renderer
		h.deps.Detector = fakeDetector{promote: true}
		opts := scraper.DefaultOptions()
		opts.Render = scraper.RenderNever

		record := h.worker(t, Config{}).Scrape(context.Background(), "https://example.com/", opts)

		assert.False(t, record.Rendered)
		assert.Zero(t, h.renderer.Calls())
	})

	t.Run("always renders directly", func(t *testing.T) {
		t.Parallel()
		h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
		h.renderer = &fakeFetcher{results: []fetchResult{{doc: rendered}}}
		h.deps.Renderer = h.renderer
		opts := scraper.DefaultOptions()
		opts.Render = scraper.RenderAlways

		record := h.worker(t, Config{}).Scrape(context.Background(), "https://example.com/", opts)

		assert.True(t, record.Rendered)
		assert.Zero(t, h.fetcher.Calls())
		assert.Equal(t, 1, h.renderer.Calls())
	})

	t.Run("always without renderer fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
		opts := scraper.DefaultOptions()
		opts.Render = scraper.RenderAlways

		record := h.worker(t, Config{}).Scrape(context.Background(), "https://example.com/", opts)

		assert.Equal(t, headless.ErrDisabled.Error(), record.Error)
	})

	t.Run("disabled renderer is not retried", func(t *testing.T) {
		t.Parallel()
		h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
		h.deps.Renderer = headless.NewNoop()
		opts := scraper.DefaultOptions()
		opts.Render = scraper.RenderAlways

		record := h.worker(t, Config{}).Scrape(context.Background(), "https://example.com/", opts)

		assert.Contains(t, record.Error, headless.ErrDisabled.Error())
		assert.Empty(t, h.sleeper.slept)
	})
}

func TestScrapeStorageFailuresDoNotChangeRecord(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
	h.deps.Records = failingRecordStore{}
	h.publisher.FailWith(errors.New("broker down"))
	w := h.worker(t, Config{})

	record := w.Scrape(context.Background(), "https://example.com/", scraper.DefaultOptions())

	assert.True(t, record.IsSuccess(), record.Error)
	assert.Equal(t, "Sample", record.Title)
}

func TestScrapeCanceledDuringDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{doc: htmlDoc("https://example.com/")})
	require.NoError(t, h.lastReqs.MarkRequest(context.Background(), "https://example.com", testNow))
	w := h.worker(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record := w.Scrape(ctx, "https://example.com/", scraper.DefaultOptions())

	assert.Contains(t, record.Error, context.Canceled.Error())
	assert.Zero(t, h.fetcher.Calls())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	h := newHarness(fetchResult{})
	deps := h.deps
	deps.Fetcher = nil
	_, err := New(deps, Config{}, nil)
	require.Error(t, err)

	deps = h.deps
	deps.Assembler = nil
	_, err = New(deps, Config{}, nil)
	require.Error(t, err)
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "raw/example.com/abc.html", buildBlobPath("raw/", "https://example.com", "abc"))
	assert.Equal(t, "raw/localhost_8080/abc.html", buildBlobPath("raw", "http://localhost:8080", "abc"))
}
