// Package monitor periodically revalidates persisted scholarship links,
// repairing the movable ones and deactivating the rest. Records are never
// hard-deleted: a dead listing is flipped inactive so its history survives.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/audit"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// Monitor sweeps active records and reconciles their link health.
type Monitor struct {
	store     scholar.Store
	validator scholar.Validator
	repairers *RepairerRegistry
	emitter   audit.Emitter
	clock     scholar.Clock
	logger    *zap.Logger

	sweeping   chan struct{} // 1-slot semaphore: one sweep at a time
	reportMu   sync.Mutex
	lastReport *scholar.SweepReport
}

// New builds a Monitor. Store, validator, and clock are required; the
// repairer registry and emitter may be nil.
func New(
	store scholar.Store,
	validator scholar.Validator,
	repairers *RepairerRegistry,
	emitter audit.Emitter,
	clock scholar.Clock,
	logger *zap.Logger,
) (*Monitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		store:     store,
		validator: validator,
		repairers: repairers,
		emitter:   emitter,
		clock:     clock,
		logger:    logger.Named("monitor"),
		sweeping:  make(chan struct{}, 1),
	}
	return m, nil
}

// Sweep revalidates every active record once. Individual record failures are
// absorbed into the report; only a store listing failure aborts the sweep.
func (m *Monitor) Sweep(ctx context.Context) (scholar.SweepReport, error) {
	select {
	case m.sweeping <- struct{}{}:
		defer func() { <-m.sweeping }()
	default:
		return scholar.SweepReport{}, fmt.Errorf("sweep already in progress")
	}

	report := scholar.SweepReport{StartedAt: m.clock.Now().UTC()}
	records, err := m.store.Find(ctx, scholar.StoreFilter{ActiveOnly: true})
	if err != nil {
		return report, fmt.Errorf("list active records: %w", err)
	}

	for _, record := range records {
		if ctx.Err() != nil {
			report.FinishedAt = m.clock.Now().UTC()
			m.storeReport(report)
			return report, ctx.Err()
		}
		report.Checked++
		m.sweepRecord(ctx, record, &report)
	}

	report.FinishedAt = m.clock.Now().UTC()
	m.storeReport(report)
	m.emit(audit.Event{
		TS:   report.FinishedAt,
		Kind: audit.KindSweepDone,
		Dur:  report.FinishedAt.Sub(report.StartedAt),
	})
	m.logger.Info("health sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("healthy", report.Healthy),
		zap.Int("repaired", report.Repaired),
		zap.Int("quarantined", report.Quarantined),
		zap.Int("deactivated", report.Deactivated),
		zap.Int("failures", report.Failures),
	)
	return report, nil
}

// sweepRecord handles one record, recovering from panics so a single bad
// record never kills the sweep.
func (m *Monitor) sweepRecord(ctx context.Context, record scholar.Scholarship, report *scholar.SweepReport) {
	defer func() {
		if r := recover(); r != nil {
			report.Failures++
			metrics.ObserveSweepRecord("failure")
			m.logger.Error("panic while sweeping record",
				zap.String("record_id", record.ID), zap.Any("panic", r))
		}
	}()

	result := m.validator.Validate(ctx, candidateFrom(record))
	now := m.clock.Now().UTC()

	if result.ApplicationLinkValid {
		if err := m.store.Update(ctx, record.ID, scholar.ScholarshipPatch{LastValidated: &now}); err != nil {
			report.Failures++
			metrics.ObserveSweepRecord("failure")
			m.logger.Warn("refresh healthy record failed",
				zap.String("record_id", record.ID), zap.Error(err))
			return
		}
		report.Healthy++
		metrics.ObserveSweepRecord("healthy")
		return
	}

	if m.tryRepair(ctx, record, now, report) {
		return
	}

	if transient(result) {
		// The site may just be down; quarantine and recheck next sweep.
		status := scholar.LinkStatusQuarantined
		patch := scholar.ScholarshipPatch{LinkStatus: &status, LastValidated: &now}
		if err := m.store.Update(ctx, record.ID, patch); err != nil {
			report.Failures++
			metrics.ObserveSweepRecord("failure")
			return
		}
		report.Quarantined++
		metrics.ObserveSweepRecord("quarantined")
		return
	}

	m.deactivate(ctx, record, now, firstError(result), report)
}

// tryRepair attempts a link replacement and persists it on success.
func (m *Monitor) tryRepair(ctx context.Context, record scholar.Scholarship, now time.Time, report *scholar.SweepReport) bool {
	if m.repairers == nil {
		return false
	}
	repairer := m.repairers.For(record.SourceName)
	if repairer == nil {
		return false
	}
	result, err := m.attemptRepair(ctx, repairer, record)
	if err != nil {
		m.logger.Warn("repair attempt failed",
			zap.String("record_id", record.ID), zap.Error(err))
		return false
	}
	if !result.Success || result.NewURL == "" {
		return false
	}
	status := scholar.LinkStatusRepaired
	patch := scholar.ScholarshipPatch{
		ApplicationLink: &result.NewURL,
		LinkStatus:      &status,
		LastValidated:   &now,
	}
	if err := m.store.Update(ctx, record.ID, patch); err != nil {
		report.Failures++
		metrics.ObserveSweepRecord("failure")
		return true
	}
	report.Repaired++
	metrics.ObserveSweepRecord("repaired")
	m.emit(audit.Event{
		TS:       now,
		Kind:     audit.KindRecordRepaired,
		Source:   record.SourceName,
		RecordID: record.ID,
		Title:    record.Title,
		Reason:   "link moved to " + result.NewURL,
	})
	return true
}

// attemptRepair shields the sweep from a misbehaving Repairer. A panic is
// downgraded to a failed repair so the record still reaches the quarantine or
// deactivation path.
func (m *Monitor) attemptRepair(
	ctx context.Context,
	repairer scholar.Repairer,
	record scholar.Scholarship,
) (result scholar.RepairResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = scholar.RepairResult{}
			err = fmt.Errorf("repairer panic: %v", r)
		}
	}()
	return repairer.AttemptRepair(ctx, record)
}

func (m *Monitor) deactivate(ctx context.Context, record scholar.Scholarship, now time.Time, reason string, report *scholar.SweepReport) {
	inactive := false
	status := scholar.LinkStatusBroken
	patch := scholar.ScholarshipPatch{
		IsActive:      &inactive,
		LinkStatus:    &status,
		LastValidated: &now,
	}
	if err := m.store.Update(ctx, record.ID, patch); err != nil {
		report.Failures++
		metrics.ObserveSweepRecord("failure")
		m.logger.Warn("deactivate record failed",
			zap.String("record_id", record.ID), zap.Error(err))
		return
	}
	report.Deactivated++
	metrics.ObserveSweepRecord("deactivated")
	m.emit(audit.Event{
		TS:       now,
		Kind:     audit.KindRecordDeactivated,
		Source:   record.SourceName,
		RecordID: record.ID,
		Title:    record.Title,
		Reason:   reason,
	})
}

// LastReport returns the most recent sweep report, if any.
func (m *Monitor) LastReport() (scholar.SweepReport, bool) {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	if m.lastReport == nil {
		return scholar.SweepReport{}, false
	}
	return *m.lastReport, true
}

func (m *Monitor) storeReport(report scholar.SweepReport) {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	m.lastReport = &report
}

func (m *Monitor) emit(evt audit.Event) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(evt)
}

func candidateFrom(record scholar.Scholarship) scholar.Candidate {
	return scholar.Candidate{
		Title:           record.Title,
		Description:     record.Description,
		Eligibility:     record.Eligibility,
		Amount:          record.Amount,
		Deadline:        record.Deadline,
		Provider:        record.Provider,
		Category:        record.Category,
		ApplicationLink: record.ApplicationLink,
		SourceURL:       record.SourceURL,
		SourceName:      record.SourceName,
	}
}

// transient reports whether the validation failure looks like a temporary
// outage rather than a definitively dead link.
func transient(result scholar.ValidationResult) bool {
	for _, e := range result.Errors {
		if e == "Timeout" || e == "NetworkUnreachable" {
			return true
		}
	}
	return false
}

func firstError(result scholar.ValidationResult) string {
	if len(result.Errors) > 0 {
		return strings.Join(result.Errors, "; ")
	}
	return "LinkInvalid"
}
