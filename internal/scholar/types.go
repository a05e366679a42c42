// Package scholar defines core types shared across subsystems.
package scholar

import "time"

// LinkStatus tracks the validation lifecycle of a persisted application link.
type LinkStatus string

// Link status values persisted on each scholarship record.
const (
	LinkStatusValid       LinkStatus = "valid"
	LinkStatusBroken      LinkStatus = "broken"
	LinkStatusRepaired    LinkStatus = "repaired"
	LinkStatusQuarantined LinkStatus = "quarantined"
)

// BreakerState represents the circuit breaker position for a source.
type BreakerState string

// Breaker states per source.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Candidate is an unvalidated scholarship record freshly extracted from a source.
// It is transient: produced by an adapter, consumed by the ingestion pipeline,
// discarded on rejection.
type Candidate struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Eligibility     string `json:"eligibility"`
	Amount          string `json:"amount"`
	Deadline        string `json:"deadline"`
	Provider        string `json:"provider"`
	Category        string `json:"category"`
	ApplicationLink string `json:"application_link"`
	SourceURL       string `json:"source_url"`
	SourceName      string `json:"source_name"`
}

// ValidationResult captures every signal produced by a single validation pass.
// It is computed fresh per call and never persisted raw; only the derived score
// and a summary survive.
type ValidationResult struct {
	ApplicationLinkValid   bool     `json:"application_link_valid"`
	HTTPStatus             int      `json:"http_status"`
	FinalURL               string   `json:"final_url"`
	SSLValid               bool     `json:"ssl_valid"`
	LeadsToCorrectPage     bool     `json:"leads_to_correct_page"`
	TitleMatches           bool     `json:"title_matches"`
	ApplicationFormPresent bool     `json:"application_form_present"`
	ContactInfoPresent     bool     `json:"contact_info_present"`
	DeadlineInfoPresent    bool     `json:"deadline_info_present"`
	MobileReachable        bool     `json:"mobile_reachable"`
	Errors                 []string `json:"errors,omitempty"`
}

// Scholarship is the persisted entity. Broken records are deactivated, never
// hard-deleted, so the audit trail survives.
type Scholarship struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Eligibility     string     `json:"eligibility"`
	Amount          string     `json:"amount"`
	Deadline        string     `json:"deadline"`
	Provider        string     `json:"provider"`
	Category        string     `json:"category"`
	ApplicationLink string     `json:"application_link"`
	SourceURL       string     `json:"source_url"`
	SourceName      string     `json:"source_name"`
	IsActive        bool       `json:"is_active"`
	LinkStatus      LinkStatus `json:"link_status"`
	QualityScore    int        `json:"quality_score"`
	LastValidated   time.Time  `json:"last_validated"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ScholarshipPatch carries the mutable fields the monitor and pipeline touch.
// Nil pointers leave the stored value untouched.
type ScholarshipPatch struct {
	ApplicationLink *string     `json:"application_link,omitempty"`
	IsActive        *bool       `json:"is_active,omitempty"`
	LinkStatus      *LinkStatus `json:"link_status,omitempty"`
	QualityScore    *int        `json:"quality_score,omitempty"`
	LastValidated   *time.Time  `json:"last_validated,omitempty"`
}

// ScrapeRun summarizes one orchestrator execution.
type ScrapeRun struct {
	ID                 string    `json:"id"`
	SourcesAttempted   int       `json:"sources_attempted"`
	SourcesSucceeded   int       `json:"sources_succeeded"`
	SourcesBlocked     int       `json:"sources_blocked"`
	CandidatesProduced int       `json:"candidates_produced"`
	CandidatesAccepted int       `json:"candidates_accepted"`
	CandidatesRejected int       `json:"candidates_rejected"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// SweepReport summarizes one health monitor sweep over active records.
type SweepReport struct {
	Checked     int       `json:"checked"`
	Healthy     int       `json:"healthy"`
	Repaired    int       `json:"repaired"`
	Quarantined int       `json:"quarantined"`
	Deactivated int       `json:"deactivated"`
	Failures    int       `json:"failures"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// RepairResult reports the outcome of a repair attempt on a broken link.
type RepairResult struct {
	Success bool   `json:"success"`
	NewURL  string `json:"new_url,omitempty"`
}

// BreakerSnapshot is the externally visible view of one source breaker.
type BreakerSnapshot struct {
	Source       string       `json:"source"`
	State        BreakerState `json:"state"`
	Failures     int          `json:"failures"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	OpenSince    time.Time    `json:"open_since,omitempty"`
	RetryAt      time.Time    `json:"retry_at,omitempty"`
	TrialPending bool         `json:"trial_pending,omitempty"`
}

// IngestStats aggregates persisted record statistics for the status surface.
type IngestStats struct {
	TotalRecords        int       `json:"total_records"`
	ActiveRecords       int       `json:"active_records"`
	AverageQualityScore float64   `json:"average_quality_score"`
	LastSweep           time.Time `json:"last_sweep,omitempty"`
}

// StoreFilter narrows Store.Find queries. Zero values match everything.
type StoreFilter struct {
	DedupKey   string
	ActiveOnly bool
	SourceName string
}
