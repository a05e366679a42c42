package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/audit"
)

// LogSink emits structured logs for each audit event. It is the default trail
// in development or wherever a durable event store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []audit.Event) error {
	for _, evt := range batch {
		s.logger.Info("audit event",
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.String("source", evt.Source),
			zap.String("record_id", evt.RecordID),
			zap.String("title", evt.Title),
			zap.String("reason", evt.Reason),
			zap.Int("score", evt.Score),
			zap.String("snapshot_uri", evt.SnapshotURI),
			zap.Duration("dur", evt.Dur),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
