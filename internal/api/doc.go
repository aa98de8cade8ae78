// Package api hosts the HTTP surface over the acquisition core. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/products/{product_id}/acquire for a synchronous acquisition.
//   - POST /v1/acquisitions for a synchronous run over the whole catalog.
//   - POST /v1/tasks to queue products for the worker.
//   - GET /v1/products/{product_id}/prices for stored observations.
package api
