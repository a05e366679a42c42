// Package pipeline turns raw candidates into persisted scholarship records.
// Every candidate passes the same gauntlet: required-field checks, duplicate
// detection, link validation, quality scoring, and finally persistence or a
// rejection with an audit trail.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/audit"
	"github.com/grantwell/scholarship-ingest/internal/dedup"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
	"github.com/grantwell/scholarship-ingest/internal/scorer"
)

// Config controls pipeline topics and snapshotting.
type Config struct {
	AcceptedTopic string
	RejectedTopic string
	// SnapshotRejects archives validation evidence for rejected candidates.
	SnapshotRejects bool
}

const (
	defaultAcceptedTopic = "scholarships.accepted"
	defaultRejectedTopic = "scholarships.rejected"
)

// Pipeline validates, scores, and persists scholarship candidates.
type Pipeline struct {
	cfg       Config
	store     scholar.Store
	validator scholar.Validator
	publisher scholar.Publisher
	snapshots scholar.SnapshotStore
	emitter   audit.Emitter
	clock     scholar.Clock
	ids       scholar.IDGenerator
	logger    *zap.Logger
}

// New builds a Pipeline. The store, validator, clock, and ID generator are
// required; publisher, snapshot store, and emitter may be nil, in which case
// the corresponding side effects are skipped.
func New(
	cfg Config,
	store scholar.Store,
	validator scholar.Validator,
	publisher scholar.Publisher,
	snapshots scholar.SnapshotStore,
	emitter audit.Emitter,
	clock scholar.Clock,
	ids scholar.IDGenerator,
	logger *zap.Logger,
) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.AcceptedTopic == "" {
		cfg.AcceptedTopic = defaultAcceptedTopic
	}
	if cfg.RejectedTopic == "" {
		cfg.RejectedTopic = defaultRejectedTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		validator: validator,
		publisher: publisher,
		snapshots: snapshots,
		emitter:   emitter,
		clock:     clock,
		ids:       ids,
		logger:    logger.Named("pipeline"),
	}, nil
}

// Process runs one candidate through the full ingestion gauntlet. A nil error
// means the candidate was accepted and the returned record persisted. On
// rejection the record is nil and the error classifies the cause:
// scholar.ErrMissingFields, scholar.ErrDuplicate, or *scholar.LowQualityError.
func (p *Pipeline) Process(ctx context.Context, runID string, candidate scholar.Candidate) (*scholar.Scholarship, error) {
	if err := requiredFields(candidate); err != nil {
		p.reject(ctx, runID, candidate, "MissingFields", 0, nil)
		return nil, err
	}

	key := dedup.Key(candidate.Title, candidate.Provider)
	existing, err := p.store.Find(ctx, scholar.StoreFilter{DedupKey: key, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if len(existing) > 0 {
		// The listing is still live on its source, so refresh the record's
		// freshness marker instead of revalidating it.
		now := p.clock.Now().UTC()
		if err := p.store.Update(ctx, existing[0].ID, scholar.ScholarshipPatch{LastValidated: &now}); err != nil {
			p.logger.Warn("refresh duplicate record failed",
				zap.String("record_id", existing[0].ID), zap.Error(err))
		}
		p.reject(ctx, runID, candidate, "Duplicate", 0, nil)
		return nil, scholar.ErrDuplicate
	}

	result := p.validator.Validate(ctx, candidate)
	score := scorer.Score(result)
	metrics.ObserveQualityScore(score)

	if !result.ApplicationLinkValid || !scorer.Acceptable(score) {
		p.reject(ctx, runID, candidate, rejectReason(result), score, &result)
		return nil, &scholar.LowQualityError{Score: score}
	}

	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}
	now := p.clock.Now().UTC()
	record := scholar.Scholarship{
		ID:              id,
		Title:           candidate.Title,
		Description:     candidate.Description,
		Eligibility:     candidate.Eligibility,
		Amount:          candidate.Amount,
		Deadline:        candidate.Deadline,
		Provider:        candidate.Provider,
		Category:        candidate.Category,
		ApplicationLink: candidate.ApplicationLink,
		SourceURL:       candidate.SourceURL,
		SourceName:      candidate.SourceName,
		IsActive:        true,
		LinkStatus:      scholar.LinkStatusValid,
		QualityScore:    score,
		LastValidated:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.store.Save(ctx, record); err != nil {
		// A concurrent worker can win the insert race between the dedup
		// lookup and this save; the store's uniqueness guarantee on the
		// dedup key turns the loser into an ordinary duplicate rejection.
		if errors.Is(err, scholar.ErrDuplicate) {
			p.reject(ctx, runID, candidate, "Duplicate", 0, nil)
			return nil, scholar.ErrDuplicate
		}
		return nil, fmt.Errorf("persist record: %w", err)
	}

	metrics.ObserveCandidate(candidate.SourceName, "accepted")
	p.emit(audit.Event{
		RunID:    runID,
		TS:       now,
		Kind:     audit.KindCandidateAccepted,
		Source:   candidate.SourceName,
		RecordID: record.ID,
		Title:    record.Title,
		Score:    score,
	})
	p.publish(ctx, p.cfg.AcceptedTopic, record)
	return &record, nil
}

// requiredFields gates on title and application link. Provider is optional:
// the dedup key tolerates an empty provider and listing sources do not always
// carry one.
func requiredFields(candidate scholar.Candidate) error {
	if strings.TrimSpace(candidate.Title) == "" ||
		strings.TrimSpace(candidate.ApplicationLink) == "" {
		return scholar.ErrMissingFields
	}
	return nil
}

func rejectReason(result scholar.ValidationResult) string {
	if !result.ApplicationLinkValid {
		if len(result.Errors) > 0 {
			return result.Errors[0]
		}
		return "LinkInvalid"
	}
	return "LowQuality"
}

func (p *Pipeline) reject(ctx context.Context, runID string, candidate scholar.Candidate, reason string, score int, result *scholar.ValidationResult) {
	metrics.ObserveCandidate(candidate.SourceName, "rejected")
	uri := ""
	if result != nil {
		uri = p.snapshot(ctx, runID, candidate, reason, score, *result)
	}
	p.emit(audit.Event{
		RunID:       runID,
		TS:          p.clock.Now().UTC(),
		Kind:        audit.KindCandidateRejected,
		Source:      candidate.SourceName,
		Title:       candidate.Title,
		Reason:      reason,
		Score:       score,
		SnapshotURI: uri,
	})
	p.publish(ctx, p.cfg.RejectedTopic, map[string]any{
		"title":  candidate.Title,
		"source": candidate.SourceName,
		"reason": reason,
		"score":  score,
	})
}

// snapshot archives the full validation evidence for later inspection. A
// snapshot failure never blocks the rejection itself.
func (p *Pipeline) snapshot(ctx context.Context, runID string, candidate scholar.Candidate, reason string, score int, result scholar.ValidationResult) string {
	if p.snapshots == nil || !p.cfg.SnapshotRejects {
		return ""
	}
	evidence := map[string]any{
		"candidate": candidate,
		"result":    result,
		"reason":    reason,
		"score":     score,
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		p.logger.Warn("marshal rejection evidence failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("rejects/%s/%s.json", runID, dedup.Key(candidate.Title, candidate.Provider))
	uri, err := p.snapshots.PutObject(ctx, path, "application/json", data)
	if err != nil {
		p.logger.Warn("archive rejection evidence failed", zap.Error(err))
		return ""
	}
	return uri
}

func (p *Pipeline) emit(evt audit.Event) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(evt)
}

func (p *Pipeline) publish(ctx context.Context, topic string, payload any) {
	if p.publisher == nil {
		return
	}
	if _, err := p.publisher.Publish(ctx, topic, payload); err != nil {
		p.logger.Warn("publish outcome event failed",
			zap.String("topic", topic), zap.Error(err))
	}
}
