// Package worker implements the per-URL scrape pipeline.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/extract"
	"github.com/JakeFAU/page-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/telemetry"
)

// EventPageScraped is published once per scraped URL.
const EventPageScraped = "page.scraped"

const tracerName = "github.com/JakeFAU/page-scraper/internal/worker"

// RateLimiter caps the request rate per origin.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	UserAgent    string
	FetchTimeout time.Duration
	ArchiveRaw   bool
	BlobPrefix   string
}

// Dependencies are the collaborators a Worker drives. Renderer, Detector,
// Limiter, Blobs, Records, Publisher and Tracer are optional.
type Dependencies struct {
	Fetcher      scraper.Fetcher
	Renderer     scraper.Fetcher
	Detector     scraper.HeadlessDetector
	Robots       scraper.RobotsPolicy
	Limiter      RateLimiter
	LastRequests scraper.LastRequestStore
	Assembler    *extract.Assembler
	Records      scraper.RecordStore
	Blobs        scraper.BlobStore
	Publisher    scraper.Publisher
	Hasher       scraper.Hasher
	Clock        scraper.Clock
	Sleeper      scraper.Sleeper
	Retry        *RetryPolicy
	Tracer       trace.Tracer
}

// Worker scrapes single URLs end to end.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	origins map[string]*sync.Mutex
}

// New constructs a Worker. Fetcher, Robots, LastRequests, Assembler, Clock
// and Sleeper are required.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("worker: fetcher is required")
	case deps.Robots == nil:
		return nil, errors.New("worker: robots policy is required")
	case deps.LastRequests == nil:
		return nil, errors.New("worker: last-request store is required")
	case deps.Assembler == nil:
		return nil, errors.New("worker: assembler is required")
	case deps.Clock == nil || deps.Sleeper == nil:
		return nil, errors.New("worker: clock and sleeper are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy(0, 0, 0)
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer(tracerName)
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "raw"
	}
	return &Worker{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		origins: make(map[string]*sync.Mutex),
	}, nil
}

// Scrape fetches rawURL and extracts a record. Every failure is reported
// through the record's Error field; storage and publish errors are logged
// only.
func (w *Worker) Scrape(ctx context.Context, rawURL string, opts scraper.Options) scraper.PageRecord {
	ctx, span := w.deps.Tracer.Start(ctx, "worker.Scrape",
		trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	opts = opts.Normalize()
	record, doc := w.scrape(ctx, rawURL, opts)
	metrics.ObservePage(rawURL, record.IsSuccess(), record.PageSize)
	span.SetAttributes(
		attribute.Int("http.status_code", record.StatusCode),
		attribute.Bool("scrape.rendered", record.Rendered),
		attribute.Int("scrape.page_size", record.PageSize),
	)
	if !record.IsSuccess() {
		span.SetStatus(codes.Error, record.Error)
	}
	w.persist(ctx, record, doc)
	return record
}

func (w *Worker) scrape(ctx context.Context, rawURL string, opts scraper.Options) (scraper.PageRecord, *scraper.FetchedDocument) {
	target, err := validateURL(rawURL)
	if err != nil {
		return w.fail(rawURL, err), nil
	}
	if opts.RespectRobots && !w.deps.Robots.CheckAllowed(ctx, rawURL) {
		w.logger.Info("blocked by robots.txt", zap.String("url", rawURL))
		return w.fail(rawURL, scraper.ErrPolicyDenied), nil
	}

	request := scraper.FetchRequest{
		URL:       target.String(),
		Headers:   opts.Headers.Clone(),
		UserAgent: w.cfg.UserAgent,
		Timeout:   w.cfg.FetchTimeout,
	}
	doc, err := w.fetch(ctx, request, opts)
	if err != nil {
		w.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return w.fail(rawURL, err), nil
	}
	record := w.deps.Assembler.Assemble(rawURL, doc, opts)
	w.logger.Debug("page scraped",
		zap.String("url", rawURL),
		zap.Int("status", doc.StatusCode),
		zap.Bool("rendered", doc.Rendered),
		zap.Int("bytes", len(doc.Body)),
	)
	return record, &doc
}

func (w *Worker) fetch(ctx context.Context, request scraper.FetchRequest, opts scraper.Options) (scraper.FetchedDocument, error) {
	if opts.Render == scraper.RenderAlways {
		if w.deps.Renderer == nil {
			return scraper.FetchedDocument{}, headless.ErrDisabled
		}
		return w.fetchWithRetry(ctx, "headless", w.deps.Renderer, request, opts)
	}

	doc, err := w.fetchWithRetry(ctx, "static", w.deps.Fetcher, request, opts)
	if err != nil {
		return doc, err
	}
	if opts.Render == scraper.RenderNever || w.deps.Renderer == nil || w.deps.Detector == nil {
		return doc, nil
	}
	if !w.deps.Detector.ShouldPromote(doc) {
		return doc, nil
	}
	metrics.ObserveHeadlessPromotion()
	w.logger.Debug("promoting to headless", zap.String("url", request.URL))
	if err := w.waitTurn(ctx, request.URL, opts.DelaySeconds); err != nil {
		w.logger.Warn("headless render skipped; keeping static result",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return doc, nil
	}
	rendered, err := w.fetchOnce(ctx, "headless", 1, w.deps.Renderer, request)
	if err != nil {
		w.logger.Warn("headless render failed; keeping static result",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return doc, nil
	}
	return rendered, nil
}

func (w *Worker) fetchWithRetry(
	ctx context.Context,
	kind string,
	fetcher scraper.Fetcher,
	request scraper.FetchRequest,
	opts scraper.Options,
) (scraper.FetchedDocument, error) {
	for retries := 0; ; retries++ {
		if err := w.waitTurn(ctx, request.URL, opts.DelaySeconds); err != nil {
			return scraper.FetchedDocument{}, err
		}
		doc, err := w.fetchOnce(ctx, kind, retries+1, fetcher, request)
		if err == nil {
			return doc, nil
		}
		if ctx.Err() != nil || !w.deps.Retry.ShouldRetry(err, retries) {
			return doc, err
		}
		backoff := w.deps.Retry.Backoff(retries)
		w.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", retries+2),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if sleepErr := w.deps.Sleeper.Sleep(ctx, backoff); sleepErr != nil {
			return doc, err
		}
	}
}

func (w *Worker) fetchOnce(
	ctx context.Context,
	kind string,
	attempt int,
	fetcher scraper.Fetcher,
	request scraper.FetchRequest,
) (scraper.FetchedDocument, error) {
	ctx, span := w.deps.Tracer.Start(ctx, "worker.fetch", trace.WithAttributes(
		attribute.String("fetch.kind", kind),
		attribute.Int("fetch.attempt", attempt),
	))
	defer span.End()
	doc, err := fetcher.Fetch(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return doc, err
	}
	span.SetAttributes(attribute.Int("http.status_code", doc.StatusCode))
	return doc, nil
}

// waitTurn enforces the same-origin delay and the rate ceiling, then records
// the request start. Callers for one origin queue behind each other.
func (w *Worker) waitTurn(ctx context.Context, rawURL string, delaySeconds float64) error {
	origin := ratelimit.Origin(rawURL)
	lock := w.originLock(origin)
	lock.Lock()
	defer lock.Unlock()

	previous, err := w.deps.LastRequests.LastRequest(ctx, origin)
	if err != nil {
		w.logger.Warn("last-request lookup failed", zap.String("origin", origin), zap.Error(err))
	}
	if delay := w.deps.Robots.RequiredDelay(previous, delaySeconds); delay > 0 {
		metrics.ObservePolitenessWait(rawURL, delay)
		if err := w.deps.Sleeper.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("wait for %s: %w", origin, err)
		}
	}
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, rawURL); err != nil {
			return fmt.Errorf("rate limit %s: %w", origin, err)
		}
	}
	if err := w.deps.LastRequests.MarkRequest(ctx, origin, w.deps.Clock.Now()); err != nil {
		w.logger.Warn("last-request update failed", zap.String("origin", origin), zap.Error(err))
	}
	return nil
}

func (w *Worker) originLock(origin string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.origins[origin]
	if !ok {
		lock = &sync.Mutex{}
		w.origins[origin] = lock
	}
	return lock
}

func (w *Worker) persist(ctx context.Context, record scraper.PageRecord, doc *scraper.FetchedDocument) {
	blobURI := ""
	if doc != nil && w.cfg.ArchiveRaw && w.deps.Blobs != nil && w.deps.Hasher != nil {
		uri, err := w.archive(ctx, record.URL, *doc)
		if err != nil {
			w.logger.Warn("raw archive failed", zap.String("url", record.URL), zap.Error(err))
		}
		blobURI = uri
	}
	if w.deps.Records != nil {
		if err := w.deps.Records.SaveRecord(ctx, record); err != nil {
			w.logger.Error("save record failed", zap.String("url", record.URL), zap.Error(err))
		}
	}
	if w.deps.Publisher != nil {
		payload := map[string]any{
			"url":        record.URL,
			"success":    record.IsSuccess(),
			"status":     record.StatusCode,
			"title":      record.Title,
			"rendered":   record.Rendered,
			"page_size":  record.PageSize,
			"scraped_at": record.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if record.Error != "" {
			payload["error"] = record.Error
		}
		if blobURI != "" {
			payload["blob_uri"] = blobURI
		}
		if _, err := w.deps.Publisher.Publish(ctx, EventPageScraped, payload); err != nil {
			w.logger.Error("publish failed", zap.String("url", record.URL), zap.Error(err))
		}
	}
}

func (w *Worker) archive(ctx context.Context, rawURL string, doc scraper.FetchedDocument) (string, error) {
	digest, err := w.deps.Hasher.Hash(doc.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	path := buildBlobPath(w.cfg.BlobPrefix, ratelimit.Origin(rawURL), digest)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := w.deps.Blobs.PutObject(ctx, path, contentType, bytes.NewReader(doc.Body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return uri, nil
}

func buildBlobPath(prefix, origin, digest string) string {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ReplaceAll(host, ":", "_")
	return fmt.Sprintf("%s/%s/%s.html", strings.Trim(prefix, "/"), host, digest)
}

func (w *Worker) fail(rawURL string, err error) scraper.PageRecord {
	return scraper.FailureRecord(rawURL, err, w.deps.Clock.Now())
}

func validateURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty url", scraper.ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraper.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", scraper.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", scraper.ErrInvalidURL)
	}
	return u, nil
}
