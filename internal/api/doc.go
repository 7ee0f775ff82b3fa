// Package api hosts the HTTP server, middleware, and JSON handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/crawl and /api/search for the crawl and search operations.
//   - GET /api/sessions and /api/sessions/{id} for inspecting finished crawls.
package api
