// Package scorer turns validation signals into a 0-100 quality score.
package scorer

import "github.com/grantwell/scholarship-ingest/internal/scholar"

// Point allocation per validation signal.
const (
	PointsLinkValid    = 40
	PointsCorrectPage  = 20
	PointsTitleMatch   = 10
	PointsFormPresent  = 20
	PointsContactInfo  = 5
	PointsDeadlineInfo = 5

	// AcceptThreshold is the minimum score the ingestion pipeline persists.
	AcceptThreshold = 70

	maxScore = 100
)

// Score is deterministic: identical results always yield identical scores.
// An invalid link contributes nothing and its dependent checks were skipped
// during validation, so they contribute nothing either.
func Score(result scholar.ValidationResult) int {
	score := 0
	if result.ApplicationLinkValid {
		score += PointsLinkValid
	}
	if result.LeadsToCorrectPage {
		score += PointsCorrectPage
	}
	if result.TitleMatches {
		score += PointsTitleMatch
	}
	if result.ApplicationFormPresent {
		score += PointsFormPresent
	}
	if result.ContactInfoPresent {
		score += PointsContactInfo
	}
	if result.DeadlineInfoPresent {
		score += PointsDeadlineInfo
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// Acceptable reports whether a score passes the persistence gate.
func Acceptable(score int) bool {
	return score >= AcceptThreshold
}
