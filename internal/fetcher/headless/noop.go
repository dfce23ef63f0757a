package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// ErrDisabled is returned when rendering is requested but no browser is
// configured.
var ErrDisabled = errors.New("headless rendering is not enabled")

// Noop stands in for the renderer when headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, request scraper.FetchRequest) (scraper.FetchedDocument, error) {
	return scraper.FetchedDocument{}, &scraper.FetchError{URL: request.URL, Err: ErrDisabled}
}
