// Package api hosts the HTTP server, middleware, and REST handlers.
// Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/test for a service banner with the default options.
//   - POST /v1/scrape to scrape one URL.
//   - POST /v1/scrape/batch to scrape many URLs with an optional export.
package api
