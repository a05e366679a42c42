package adapters

import (
	"context"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// StaticAdapter serves a fixed candidate list. It backs smoke tests and
// seeded development environments where crawling real sites is undesirable.
type StaticAdapter struct {
	name       string
	priority   int
	candidates []scholar.Candidate
}

// NewStaticAdapter returns an adapter that always produces the given candidates.
func NewStaticAdapter(name string, priority int, candidates []scholar.Candidate) *StaticAdapter {
	return &StaticAdapter{
		name:       name,
		priority:   priority,
		candidates: append([]scholar.Candidate(nil), candidates...),
	}
}

// Name returns the source name.
func (a *StaticAdapter) Name() string { return a.name }

// Priority returns the scheduling priority; higher runs first.
func (a *StaticAdapter) Priority() int { return a.priority }

// Produce returns a closed channel containing the fixed candidates.
func (a *StaticAdapter) Produce(ctx context.Context) (<-chan scholar.Candidate, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	out := make(chan scholar.Candidate, len(a.candidates))
	for _, c := range a.candidates {
		c.SourceName = a.name
		out <- c
	}
	close(out)
	return out, nil
}
