// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to process every due source.
//   - POST /v1/sources/{source_id}/run to process one source now.
//   - POST /v1/articles/retry to re-run rewrites left in scraped status.
//   - POST /v1/images/sweep to delete captured images past retention.
package api
