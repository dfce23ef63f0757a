// Package postgres persists page records in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const defaultTable = "pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for page rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes one row per scraped page.
type RecordStore struct {
	pool  execCloser
	table string
	ids   scraper.IDGenerator
}

// NewRecordStore connects to Postgres using cfg.
func NewRecordStore(ctx context.Context, cfg Config, ids scraper.IDGenerator) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(pool, cfg.Table, ids)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string, ids scraper.IDGenerator) (*RecordStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the pages table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	url text NOT NULL,
	title text NOT NULL DEFAULT '',
	meta_description text NOT NULL DEFAULT '',
	meta_keywords text NOT NULL DEFAULT '',
	headings jsonb,
	links jsonb,
	images jsonb,
	text_content text NOT NULL DEFAULT '',
	page_size integer NOT NULL DEFAULT 0,
	status_code integer NOT NULL DEFAULT 0,
	content_type text NOT NULL DEFAULT '',
	last_modified text NOT NULL DEFAULT '',
	response_time_ms bigint NOT NULL DEFAULT 0,
	rendered boolean NOT NULL DEFAULT false,
	custom_fields jsonb,
	scraped_at timestamptz NOT NULL,
	error text
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// SaveRecord inserts record as a new row. Failure records store only the URL,
// the timestamp and the error text.
func (s *RecordStore) SaveRecord(ctx context.Context, record scraper.PageRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("record store is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate record id: %w", err)
	}
	args, err := recordArgs(id, record)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	title,
	meta_description,
	meta_keywords,
	headings,
	links,
	images,
	text_content,
	page_size,
	status_code,
	content_type,
	last_modified,
	response_time_ms,
	rendered,
	custom_fields,
	scraped_at,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)`, s.table)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func recordArgs(id string, record scraper.PageRecord) ([]any, error) {
	var errText *string
	if !record.IsSuccess() {
		msg := record.Error
		errText = &msg
	}
	headings, err := jsonColumn(record.Headings, record.IsSuccess())
	if err != nil {
		return nil, fmt.Errorf("marshal headings: %w", err)
	}
	links, err := jsonColumn(record.Links, record.IsSuccess())
	if err != nil {
		return nil, fmt.Errorf("marshal links: %w", err)
	}
	images, err := jsonColumn(record.Images, record.IsSuccess())
	if err != nil {
		return nil, fmt.Errorf("marshal images: %w", err)
	}
	custom, err := jsonColumn(record.CustomFields, record.CustomFields != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal custom fields: %w", err)
	}
	return []any{
		id,
		record.URL,
		record.Title,
		record.MetaDescription,
		record.MetaKeywords,
		headings,
		links,
		images,
		record.TextContent,
		record.PageSize,
		record.StatusCode,
		record.ContentType,
		record.LastModified,
		record.ResponseTimeMs,
		record.Rendered,
		custom,
		record.ScrapedAt,
		errText,
	}, nil
}

// jsonColumn marshals v for a jsonb column, or returns nil (SQL NULL) when
// present is false. Empty collections are stored as empty JSON, not null.
func jsonColumn[T any](v T, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	switch string(data) {
	case "null":
		return emptyJSON(v), nil
	default:
		return data, nil
	}
}

func emptyJSON(v any) []byte {
	switch v.(type) {
	case scraper.HeadingMap, map[string][]string:
		return []byte("{}")
	default:
		return []byte("[]")
	}
}
