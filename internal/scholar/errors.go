package scholar

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the ingestion subsystems.
var (
	// ErrMissingFields marks a candidate without the required title or link.
	ErrMissingFields = errors.New("candidate is missing required fields")
	// ErrDuplicate marks a candidate whose dedup key already has an active record.
	ErrDuplicate = errors.New("duplicate of an active record")
	// ErrRedirectLoop marks a redirect chain past the hop limit.
	ErrRedirectLoop = errors.New("redirect chain exceeded hop limit")
	// ErrNoCallableSources is the only fatal orchestrator outcome: every
	// registered source was blocked or the registry was empty.
	ErrNoCallableSources = errors.New("no callable sources")
	// ErrSourceBlocked marks a source skipped because its breaker is open.
	ErrSourceBlocked = errors.New("source blocked by circuit breaker")
	// ErrNotFound marks a store lookup miss.
	ErrNotFound = errors.New("record not found")
)

// HTTPError records a non-success final status from the link probe.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// LowQualityError carries the score that failed the acceptance gate.
type LowQualityError struct {
	Score int
}

func (e *LowQualityError) Error() string {
	return fmt.Sprintf("quality score %d below acceptance threshold", e.Score)
}

// AdapterError wraps a failure raised by a source adapter, keeping the source
// name for breaker bookkeeping.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
