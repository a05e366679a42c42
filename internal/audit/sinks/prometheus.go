package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grantwell/scholarship-ingest/internal/audit"
)

// PrometheusSink exports audit trail metrics via Prometheus. It owns counters
// for event kinds and rejection reasons so operators can alert on reject
// spikes without parsing logs.
type PrometheusSink struct {
	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_audit_events_total",
			Help: "Audit events partitioned by kind and source.",
		}, []string{"kind", "source"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rejections_total",
			Help: "Candidate rejections partitioned by reason.",
		}, []string{"reason"}),
	}
	for _, collector := range []prometheus.Collector{s.events, s.rejections} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register audit collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []audit.Event) error {
	for _, evt := range batch {
		source := evt.Source
		if source == "" {
			source = "unknown"
		}
		s.events.WithLabelValues(string(evt.Kind), source).Inc()
		if evt.Kind == audit.KindCandidateRejected {
			reason := evt.Reason
			if reason == "" {
				reason = "unknown"
			}
			s.rejections.WithLabelValues(reason).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
