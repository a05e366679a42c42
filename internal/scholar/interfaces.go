package scholar

import (
	"context"
	"time"
)

// SourceAdapter produces candidates from one external scholarship website.
// Implementations are stateless; the returned channel is a lazy, finite stream
// that is closed when the adapter is done or the context is canceled.
type SourceAdapter interface {
	Name() string
	Priority() int
	Produce(ctx context.Context) (<-chan Candidate, error)
}

// Store persists scholarship records. Implementations must make a single
// record's save/update atomic from the caller's perspective; no cross-record
// transactions are required.
type Store interface {
	Find(ctx context.Context, filter StoreFilter) ([]Scholarship, error)
	Save(ctx context.Context, record Scholarship) error
	Update(ctx context.Context, id string, patch ScholarshipPatch) error
	Stats(ctx context.Context) (IngestStats, error)
}

// Validator probes a candidate's application link and classifies the response.
type Validator interface {
	Validate(ctx context.Context, candidate Candidate) ValidationResult
}

// Repairer attempts to find a working replacement link for a record whose
// link has gone bad. Implementations may be source-specific.
type Repairer interface {
	AttemptRepair(ctx context.Context, record Scholarship) (RepairResult, error)
}

// Publisher pushes ingestion outcome events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SnapshotStore archives page evidence for rejected or repaired records and
// returns a URI for later inspection.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record and run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
