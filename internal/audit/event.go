package audit

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported audit event kinds.
const (
	KindRunStart          Kind = "RUN_START"
	KindRunDone           Kind = "RUN_DONE"
	KindRunError          Kind = "RUN_ERROR"
	KindSourceBlocked     Kind = "SOURCE_BLOCKED"
	KindCandidateAccepted Kind = "CANDIDATE_ACCEPTED"
	KindCandidateRejected Kind = "CANDIDATE_REJECTED"
	KindSweepDone         Kind = "SWEEP_DONE"
	KindRecordRepaired    Kind = "RECORD_REPAIRED"
	KindRecordDeactivated Kind = "RECORD_DEACTIVATED"
)

// Event captures a single ingestion or sweep outcome.
type Event struct {
	// RunID identifies the scrape run or sweep this event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind
	// Source optionally scopes the event to a source adapter name.
	Source string
	// RecordID is the persisted scholarship ID, when one exists.
	RecordID string
	// Title is the candidate or record title for human-readable trails.
	Title string
	// Reason carries the rejection or deactivation cause.
	Reason string
	// Score is the computed quality score for candidate events.
	Score int
	// SnapshotURI points at archived page evidence, when captured.
	SnapshotURI string
	// Dur captures execution latency for run and sweep completions.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError, KindSweepDone:
	case KindSourceBlocked:
		if e.Source == "" {
			return errors.New("source blocked requires source")
		}
	case KindCandidateAccepted, KindCandidateRejected:
		if e.Source == "" {
			return errors.New("candidate event requires source")
		}
		if e.Kind == KindCandidateRejected && e.Reason == "" {
			return errors.New("rejection requires reason")
		}
	case KindRecordRepaired, KindRecordDeactivated:
		if e.RecordID == "" {
			return errors.New("sweep record event requires record id")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
