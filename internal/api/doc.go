// Package api hosts the optional admin HTTP server. Routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the latest crawl's progress.
package api
