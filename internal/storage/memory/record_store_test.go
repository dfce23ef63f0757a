package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

func TestRecordStoreKeepsOrder(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	require.NoError(t, store.SaveRecord(ctx, scraper.PageRecord{URL: "https://a.example", Title: "A"}))
	require.NoError(t, store.SaveRecord(ctx, scraper.FailureRecord("https://b.example", errors.New("boom"), time.Time{})))

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "https://a.example", records[0].URL)
	assert.Equal(t, "boom", records[1].Error)
}

func TestLastRequestStore(t *testing.T) {
	t.Parallel()

	store := NewLastRequestStore()
	ctx := context.Background()
	origin := "https://example.com"

	last, err := store.LastRequest(ctx, origin)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	newer := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	older := newer.Add(-time.Second)
	require.NoError(t, store.MarkRequest(ctx, origin, newer))
	require.NoError(t, store.MarkRequest(ctx, origin, older))

	last, err = store.LastRequest(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, newer, last)
	assert.Len(t, store.Snapshot(), 1)
}

func TestLastRequestStoreConcurrent(t *testing.T) {
	t.Parallel()

	store := NewLastRequestStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.MarkRequest(ctx, "https://example.com", base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	last, err := store.LastRequest(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, base.Add(49*time.Second), last)
}
