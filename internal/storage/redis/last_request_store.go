// Package redis shares per-origin request timestamps through Redis so that
// several scraper processes honor the same politeness delay.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "page-scraper:"
	keyTTL           = time.Hour
)

// Config describes the Redis connection.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// LastRequestStore implements scraper.LastRequestStore on Redis strings
// holding Unix nanoseconds.
type LastRequestStore struct {
	client client
	prefix string
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*LastRequestStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newWithClient(rdb, cfg.KeyPrefix), nil
}

func newWithClient(c client, prefix string) *LastRequestStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &LastRequestStore{client: c, prefix: prefix}
}

// LastRequest returns the zero time when origin has no recorded request.
func (s *LastRequestStore) LastRequest(ctx context.Context, origin string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(origin)).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last request: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last request %q: %w", raw, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// MarkRequest stores at for origin. Keys expire after an hour, long past any
// realistic delay.
func (s *LastRequestStore) MarkRequest(ctx context.Context, origin string, at time.Time) error {
	value := strconv.FormatInt(at.UnixNano(), 10)
	if err := s.client.Set(ctx, s.key(origin), value, keyTTL).Err(); err != nil {
		return fmt.Errorf("set last request: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *LastRequestStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *LastRequestStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func (s *LastRequestStore) key(origin string) string {
	return s.prefix + "last:" + origin
}
