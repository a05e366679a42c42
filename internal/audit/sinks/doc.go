// Package sinks implements concrete audit consumers such as Prometheus and
// structured logging. Each sink satisfies the audit.Sink interface and is
// safe for repeated Consume/Close cycles.
package sinks
