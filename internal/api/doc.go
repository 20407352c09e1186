// Package api hosts the HTTP trigger surface. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/scenarios lists runnable scenarios.
//   - POST /v1/scenarios/{name}/runs starts a run in the background.
//   - GET /v1/runs/{id} and /v1/runs/{id}/report expose the outcome.
package api
