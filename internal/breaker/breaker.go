// Package breaker implements per-source circuit breakers for scrape sources.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// Defaults applied when Config fields are zero.
const (
	defaultFailureThreshold = 5
	defaultCooldown         = 10 * time.Minute
)

// Config controls breaker transitions.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens a breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker blocks calls before a trial.
	Cooldown time.Duration
}

// Decision is the outcome of a BeforeCall check.
type Decision struct {
	Allowed bool
	// RetryAt is populated when blocked: the earliest time a call may succeed.
	RetryAt time.Time
	// Trial marks the single half-open probe call.
	Trial bool
}

// entry holds the mutable breaker state for one source. Each entry carries its
// own mutex so sources never contend with each other.
type entry struct {
	mu           sync.Mutex
	state        scholar.BreakerState
	failures     int
	lastFailure  time.Time
	lastError    string
	openSince    time.Time
	trialPending bool
}

// Manager tracks one breaker per source identity.
type Manager struct {
	cfg   Config
	clock scholar.Clock

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager builds a Manager, filling zero config fields with defaults.
func NewManager(cfg Config, clock scholar.Clock) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Manager{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

func (m *Manager) entryFor(source string) *entry {
	m.mu.RLock()
	e, ok := m.entries[source]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[source]; ok {
		return e
	}
	e = &entry{state: scholar.BreakerClosed}
	m.entries[source] = e
	return e
}

// BeforeCall gates an adapter invocation. An open breaker blocks until its
// cooldown elapses, then admits exactly one trial call; concurrent callers
// racing for the trial lose and stay blocked until the trial's outcome is
// recorded.
func (m *Manager) BeforeCall(source string) Decision {
	e := m.entryFor(source)
	now := m.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case scholar.BreakerOpen:
		retryAt := e.openSince.Add(m.cfg.Cooldown)
		if now.Before(retryAt) {
			return Decision{RetryAt: retryAt}
		}
		e.state = scholar.BreakerHalfOpen
		e.trialPending = true
		return Decision{Allowed: true, Trial: true}
	case scholar.BreakerHalfOpen:
		if e.trialPending {
			return Decision{RetryAt: now.Add(m.cfg.Cooldown)}
		}
		e.trialPending = true
		return Decision{Allowed: true, Trial: true}
	default:
		return Decision{Allowed: true}
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (m *Manager) RecordSuccess(source string) {
	e := m.entryFor(source)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = scholar.BreakerClosed
	e.failures = 0
	e.lastError = ""
	e.trialPending = false
	e.openSince = time.Time{}
}

// RecordFailure accumulates a failure. A half-open failure reopens the breaker
// immediately; a closed breaker opens once consecutive failures reach the
// threshold.
func (m *Manager) RecordFailure(source string, err error) {
	e := m.entryFor(source)
	now := m.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastFailure = now
	if err != nil {
		e.lastError = err.Error()
	}
	if e.state == scholar.BreakerHalfOpen {
		e.state = scholar.BreakerOpen
		e.openSince = now
		e.trialPending = false
		return
	}
	if e.failures >= m.cfg.FailureThreshold {
		e.state = scholar.BreakerOpen
		e.openSince = now
	}
}

// Reset forces one source back to closed with zero failures.
func (m *Manager) Reset(source string) {
	m.RecordSuccess(source)
}

// ResetAll is the administrative override: every known source returns to
// closed with zero failures.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	sources := make([]string, 0, len(m.entries))
	for source := range m.entries {
		sources = append(sources, source)
	}
	m.mu.RUnlock()
	for _, source := range sources {
		m.RecordSuccess(source)
	}
}

// Snapshot reports the current state of one source breaker.
func (m *Manager) Snapshot(source string) (scholar.BreakerSnapshot, bool) {
	m.mu.RLock()
	e, ok := m.entries[source]
	m.mu.RUnlock()
	if !ok {
		return scholar.BreakerSnapshot{}, false
	}
	return m.snapshotEntry(source, e), true
}

// SnapshotAll reports every known source breaker, sorted by source name.
func (m *Manager) SnapshotAll() []scholar.BreakerSnapshot {
	m.mu.RLock()
	type named struct {
		source string
		e      *entry
	}
	all := make([]named, 0, len(m.entries))
	for source, e := range m.entries {
		all = append(all, named{source, e})
	}
	m.mu.RUnlock()

	snaps := make([]scholar.BreakerSnapshot, 0, len(all))
	for _, n := range all {
		snaps = append(snaps, m.snapshotEntry(n.source, n.e))
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Source < snaps[j].Source })
	return snaps
}

func (m *Manager) snapshotEntry(source string, e *entry) scholar.BreakerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := scholar.BreakerSnapshot{
		Source:       source,
		State:        e.state,
		Failures:     e.failures,
		LastFailure:  e.lastFailure,
		LastError:    e.lastError,
		OpenSince:    e.openSince,
		TrialPending: e.trialPending,
	}
	if e.state == scholar.BreakerOpen {
		snap.RetryAt = e.openSince.Add(m.cfg.Cooldown)
	}
	return snap
}
