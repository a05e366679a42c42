// Package audit provides the event primitives, non-blocking hub, and emitter
// interfaces used to record ingestion and health-sweep outcomes. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs or Prometheus collectors.
package audit
