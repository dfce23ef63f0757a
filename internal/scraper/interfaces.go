package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher turns a URL into a fetched document. Static HTTP fetchers and
// headless renderers both satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchedDocument, error)
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	CheckAllowed(ctx context.Context, rawURL string) bool
	RequiredDelay(previous time.Time, delaySeconds float64) time.Duration
}

// HeadlessDetector decides whether a static fetch should be re-rendered.
type HeadlessDetector interface {
	ShouldPromote(doc FetchedDocument) bool
}

// LastRequestStore remembers when each origin was last fetched.
type LastRequestStore interface {
	LastRequest(ctx context.Context, origin string) (time.Time, error)
	MarkRequest(ctx context.Context, origin string, at time.Time) error
}

// RecordStore persists page records.
type RecordStore interface {
	SaveRecord(ctx context.Context, record PageRecord) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces scrape events (Pub/Sub or in memory).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Hasher computes digests for archived documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
