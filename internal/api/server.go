package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/export"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const maxRequestBodyBytes = 1 << 20

// Scraper scrapes one URL.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string, opts scraper.Options) scraper.PageRecord
}

// BatchScraper scrapes many URLs and returns one record per URL.
type BatchScraper interface {
	ScrapeAll(ctx context.Context, urls []string, opts scraper.Options) []scraper.PageRecord
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the collaborators behind the handlers. Exports and
// Checks are optional.
type Dependencies struct {
	Scraper Scraper
	Batch   BatchScraper
	Exports scraper.BlobStore
	IDs     scraper.IDGenerator
	Clock   scraper.Clock
	Checks  map[string]ReadinessCheck
}

// Server wires HTTP handlers to the scrape pipeline.
type Server struct {
	router  chi.Router
	deps    Dependencies
	cfg     config.Config
	version string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server.MaxBatchURLs <= 0 {
		cfg.Server.MaxBatchURLs = 100
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		version: version,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs))
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		if cfg.Server.RequestTimeoutSeconds > 0 {
			r.Use(timeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second))
		}
		r.Get("/test", s.banner)
		r.Post("/scrape", s.scrapeOne)
		r.Post("/scrape/batch", s.scrapeBatch)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type bannerResponse struct {
	Service  string         `json:"service"`
	Version  string         `json:"version"`
	Status   string         `json:"status"`
	Time     time.Time      `json:"time"`
	Defaults optionsPayload `json:"defaults"`
}

type optionsPayload struct {
	DelaySeconds  float64 `json:"delaySeconds"`
	MaxLinks      int     `json:"maxLinks"`
	MaxImages     int     `json:"maxImages"`
	TextLength    int     `json:"textLength"`
	RespectRobots bool    `json:"respectRobots"`
	Render        string  `json:"render"`
}

func (s *Server) banner(w http.ResponseWriter, _ *http.Request) {
	defaults := s.cfg.ScrapeDefaults()
	writeJSON(w, http.StatusOK, bannerResponse{
		Service: "page-scraper",
		Version: s.version,
		Status:  "ok",
		Time:    s.now(),
		Defaults: optionsPayload{
			DelaySeconds:  defaults.DelaySeconds,
			MaxLinks:      defaults.MaxLinks,
			MaxImages:     defaults.MaxImages,
			TextLength:    defaults.TextLength,
			RespectRobots: defaults.RespectRobots,
			Render:        string(defaults.Render),
		},
	})
}

type scrapeRequest struct {
	URL     string                  `json:"url"`
	Options scraper.OptionOverrides `json:"options"`
}

func (s *Server) scrapeOne(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	opts, err := req.Options.Resolve(s.cfg.ScrapeDefaults())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record := s.deps.Scraper.Scrape(r.Context(), req.URL, opts)
	writeJSON(w, http.StatusOK, record)
}

type batchRequest struct {
	URLs    []string                `json:"urls"`
	Options scraper.OptionOverrides `json:"options"`
	Export  string                  `json:"export"`
}

type batchResponse struct {
	Records     []scraper.PageRecord `json:"records"`
	Report      export.Report        `json:"report"`
	ExportURI   string               `json:"exportUri,omitempty"`
	ExportError string               `json:"exportError,omitempty"`
}

func (s *Server) scrapeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	urls := cleanURLs(req.URLs)
	switch {
	case len(urls) == 0:
		writeError(w, http.StatusBadRequest, "urls required")
		return
	case len(urls) > s.cfg.Server.MaxBatchURLs:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", s.cfg.Server.MaxBatchURLs))
		return
	}
	opts, err := req.Options.Resolve(s.cfg.ScrapeDefaults())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var format export.Format
	if req.Export != "" {
		if format, err = export.ParseFormat(req.Export); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if s.deps.Exports == nil {
			writeError(w, http.StatusBadRequest, "exports are not configured")
			return
		}
	}

	records := s.deps.Batch.ScrapeAll(r.Context(), urls, opts)
	resp := batchResponse{
		Records: records,
		Report:  export.Summarize(records, s.deps.Clock),
	}
	if format != "" {
		uri, err := s.storeExport(r.Context(), format, records)
		if err != nil {
			s.logger.Error("export failed", zap.String("format", string(format)), zap.Error(err))
			resp.ExportError = err.Error()
		}
		resp.ExportURI = uri
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) storeExport(ctx context.Context, format export.Format, records []scraper.PageRecord) (string, error) {
	data, err := export.Encode(format, records)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	name := s.now().Format("20060102_150405")
	if s.deps.IDs != nil {
		if id, err := s.deps.IDs.NewID(); err == nil {
			name = id
		}
	}
	path := fmt.Sprintf("exports/%s.%s", name, format.Extension())
	uri, err := s.deps.Exports.PutObject(ctx, path, format.ContentType(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return uri, nil
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now().UTC()
	}
	return s.deps.Clock.Now()
}

func cleanURLs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
