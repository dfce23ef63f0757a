package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// RecordStore keeps page records in insertion order.
type RecordStore struct {
	mu      sync.RWMutex
	records []scraper.PageRecord
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// SaveRecord appends record.
func (s *RecordStore) SaveRecord(_ context.Context, record scraper.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a snapshot of the stored records.
func (s *RecordStore) Records() []scraper.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scraper.PageRecord(nil), s.records...)
}

// LastRequestStore remembers per-origin request times for one process.
type LastRequestStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewLastRequestStore constructs an empty LastRequestStore.
func NewLastRequestStore() *LastRequestStore {
	return &LastRequestStore{last: make(map[string]time.Time)}
}

// LastRequest returns the zero time when origin was never marked.
func (s *LastRequestStore) LastRequest(_ context.Context, origin string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[origin], nil
}

// MarkRequest records at as the latest request time for origin. Older
// timestamps never overwrite newer ones.
func (s *LastRequestStore) MarkRequest(_ context.Context, origin string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[origin]; ok && prev.After(at) {
		return nil
	}
	s.last[origin] = at
	return nil
}

// Snapshot copies the current origin timestamps.
func (s *LastRequestStore) Snapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.last)
}
