// Package main hosts the scholarship ingestion service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, run, breaker, sweep, and stats endpoints. Runs and
//     sweeps are triggered asynchronously; status is polled via the /latest endpoints.
//   - Orchestrator: scrape runs fan source adapters out under a concurrency semaphore. Each source is checked
//     against its circuit breaker before the call, paced by the per-source rate limiter, and bounded by a per-source
//     timeout. Candidates funnel into a shared channel drained by a fixed pool of ingest workers.
//   - Ingestion pipeline: each candidate passes required-field checks, duplicate detection against the store,
//     link validation (redirect-following HTTP probe plus content analysis and an optional headless mobile probe),
//     and quality scoring. Accepted records are persisted and published; rejected candidates have their validation
//     evidence archived to the snapshot store and a rejection event published.
//   - Health monitor: a scheduler sweeps active records on an interval, revalidating every application link.
//     Broken links go through repair attempts before deactivation; transient network failures quarantine the
//     record for the next sweep. Records are never hard-deleted.
//   - Persistence & fanout: records live in the configured store (memory/Postgres), snapshots in the configured
//     snapshot backend (memory/local/GCS), and accept/reject notifications go to Pub/Sub when configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; audit events are buffered through the
//     audit hub to log and Prometheus sinks.
//
// Operational notes:
//   - Concurrency model: one scrape run at a time, bounded source fan-out, fixed ingest worker pool, one sweep at
//     a time. Shutdown is coordinated via context cancellation from main through the orchestrator and scheduler.
//   - Rate limiting: per-domain token buckets with a jittered minimum inter-request delay keep traffic to source
//     sites polite and irregular.
//   - Observability: zap logs carry run IDs and source names at key transitions; Prometheus counters/histograms
//     track candidates, validation latency, quality scores, breaker states, and sweep outcomes.
//
// Quick checklist:
//   - Configure env vars with the INGEST_ prefix (INGEST_SERVER_PORT, INGEST_STORAGE_BACKEND, INGEST_DATABASE_DSN,
//     INGEST_PUBSUB_PROJECT_ID, ...) or pass -config config.yaml with a sources list.
//   - Run locally: go run ./cmd/ingestd -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM for graceful drain; in-flight scrape runs are bounded by per-source timeouts.
package main
