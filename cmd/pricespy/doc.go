// Package main hosts the pricespy entrypoint.
//
// Architecture overview:
//   - Acquisition: internal/acquisition.Orchestrator looks a product up, opens one browser session
//     (chromedp or colly), takes the first search result, reads its JSON-LD offer, normalizes the price
//     and appends a PriceObservation for the configured competitor. The session is closed on every path.
//   - Worker: internal/worker polls the task queue (Redis list or in-memory), runs one acquisition at a
//     time under a per-task timeout, logs the outcome and drops failures unless worker.max_attempts > 1.
//   - HTTP API: internal/api exposes synchronous acquisition, bulk acquisition, task enqueue and the price
//     read path, plus health, readiness and Prometheus metrics.
//   - Persistence & fanout: observations go to sqlite, Postgres or memory. Listing HTML can be archived
//     locally or to GCS, and a price.observed event can be published to Pub/Sub.
//
// Quick checklist:
//   - pricespy migrate && pricespy seed-competitor
//   - pricespy serve --with-worker, or pricespy worker next to a separate API process.
//   - pricespy enqueue 1 2 3 / pricespy acquire 1 / pricespy acquire --all
//   - Environment overrides use the PRICESPY_ prefix, e.g. PRICESPY_STORE_PROVIDER=postgres.
package main
