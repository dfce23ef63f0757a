package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return goredis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, ttl time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return goredis.NewStatusResult("", f.failSet)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestLastRequestRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := newWithClient(fake, "test:")
	ctx := context.Background()
	origin := "https://example.com"

	last, err := store.LastRequest(ctx, origin)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	require.NoError(t, store.MarkRequest(ctx, origin, at))
	assert.Equal(t, time.Hour, fake.ttls["test:last:https://example.com"])

	last, err = store.LastRequest(ctx, origin)
	require.NoError(t, err)
	assert.True(t, at.Equal(last))

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

func TestLastRequestDefaultPrefix(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := newWithClient(fake, "")
	require.NoError(t, store.MarkRequest(context.Background(), "https://a.example", time.Unix(1, 0)))
	_, ok := fake.values["page-scraper:last:https://a.example"]
	assert.True(t, ok)
}

func TestLastRequestErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := newWithClient(fake, "")
	ctx := context.Background()

	fake.values["page-scraper:last:https://bad.example"] = "not-a-number"
	_, err := store.LastRequest(ctx, "https://bad.example")
	assert.ErrorContains(t, err, "parse last request")

	fake.failGet = errors.New("connection refused")
	_, err = store.LastRequest(ctx, "https://x.example")
	assert.ErrorContains(t, err, "get last request")

	fake.failSet = errors.New("readonly")
	assert.ErrorContains(t, store.MarkRequest(ctx, "https://x.example", time.Now()), "set last request")
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	assert.ErrorContains(t, err, "redis.addr")
}
