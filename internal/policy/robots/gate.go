// Package robots decides whether a URL may be fetched under the target
// site's robots.txt and how long to wait before the next same-origin request.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/clock/system"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 10 * time.Minute
	maxRobotsBytes  = 1 << 20

	decisionAllowed  = "allowed"
	decisionDenied   = "denied"
	decisionFailOpen = "fail_open"
)

var defaultRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Config tunes robots.txt retrieval.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
	// Client overrides the HTTP client used for robots.txt requests.
	Client *http.Client
	Clock  scraper.Clock
	// RetryBackoff lists the waits between attempts after a transient error.
	RetryBackoff []time.Duration
}

type cacheEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// Gate answers robots.txt questions for the worker. It fails open: any
// problem obtaining or parsing robots.txt permits the fetch.
type Gate struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	backoff   []time.Duration
	clock     scraper.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewGate builds a Gate from cfg.
func NewGate(cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	backoff := cfg.RetryBackoff
	if backoff == nil {
		backoff = defaultRetryBackoff
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Gate{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		backoff:   backoff,
		clock:     clock,
		logger:    logger.Named("robots"),
		cache:     make(map[string]cacheEntry),
	}
}

// CheckAllowed reports whether rawURL may be fetched. Unparsable URLs are
// left for the fetcher to reject.
func (g *Gate) CheckAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		metrics.ObserveRobotsDecision(decisionFailOpen)
		return true
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots check failed; allowing access",
			zap.String("host", parsed.Host),
			zap.Error(err),
		)
		metrics.ObserveRobotsDecision(decisionFailOpen)
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil || group.Test(parsed.RequestURI()) {
		metrics.ObserveRobotsDecision(decisionAllowed)
		return true
	}
	g.logger.Debug("robots denied access", zap.String("url", rawURL))
	metrics.ObserveRobotsDecision(decisionDenied)
	return false
}

// RequiredDelay returns how long to wait before a same-origin request given
// the previous request time. A zero previous time or non-positive delay
// means no wait.
func (g *Gate) RequiredDelay(previous time.Time, delaySeconds float64) time.Duration {
	if previous.IsZero() || delaySeconds <= 0 {
		return 0
	}
	delay := time.Duration(delaySeconds * float64(time.Second))
	return max(0, previous.Add(delay).Sub(g.clock.Now()))
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	now := g.clock.Now()

	g.mu.Lock()
	entry, ok := g.cache[key]
	g.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.data, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	data, err := g.fetchWithRetry(ctx, robotsURL.String())
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[key] = cacheEntry{data: data, expires: now.Add(g.ttl)}
	g.mu.Unlock()
	return data, nil
}

func (g *Gate) fetchWithRetry(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	for attempt := 0; ; attempt++ {
		data, err := g.fetch(ctx, robotsURL)
		if err == nil {
			return data, nil
		}
		if !isTransientError(err) || attempt >= len(g.backoff) {
			return nil, err
		}
		g.logger.Debug("retrying robots fetch",
			zap.String("url", robotsURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, g.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

func (g *Gate) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
