package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grantwell/scholarship-ingest/internal/audit"
)

// TestPrometheusSinkRecordsMetrics ensures counters are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []audit.Event{
		{RunID: "run-1", TS: time.Now(), Kind: audit.KindRunStart},
		{RunID: "run-1", TS: time.Now(), Kind: audit.KindCandidateAccepted, Source: "acme", Score: 85},
		{RunID: "run-1", TS: time.Now(), Kind: audit.KindCandidateRejected, Source: "acme", Reason: "LowQuality", Score: 40},
		{RunID: "run-1", TS: time.Now(), Kind: audit.KindCandidateRejected, Source: "acme", Reason: "Duplicate"},
		{RunID: "run-1", TS: time.Now(), Kind: audit.KindRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(audit.KindCandidateAccepted), "acme")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(audit.KindCandidateRejected), "acme")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(audit.KindRunStart), "unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.rejections.WithLabelValues("LowQuality")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.rejections.WithLabelValues("Duplicate")))
}
