package scorer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

func TestScore_FullHouse(t *testing.T) {
	t.Parallel()

	result := scholar.ValidationResult{
		ApplicationLinkValid:   true,
		LeadsToCorrectPage:     true,
		TitleMatches:           true,
		ApplicationFormPresent: true,
		ContactInfoPresent:     true,
		DeadlineInfoPresent:    true,
	}
	require.Equal(t, 100, Score(result))
}

func TestScore_MissingContactInfoScores95(t *testing.T) {
	t.Parallel()

	result := scholar.ValidationResult{
		ApplicationLinkValid:   true,
		HTTPStatus:             200,
		LeadsToCorrectPage:     true,
		TitleMatches:           true,
		ApplicationFormPresent: true,
		DeadlineInfoPresent:    true,
	}
	score := Score(result)
	require.Equal(t, 95, score)
	require.True(t, Acceptable(score))
}

func TestScore_BrokenLinkScoresZero(t *testing.T) {
	t.Parallel()

	result := scholar.ValidationResult{
		HTTPStatus: 404,
		Errors:     []string{"HttpError(404)"},
	}
	score := Score(result)
	require.Equal(t, 0, score)
	require.False(t, Acceptable(score))
}

func TestScore_InvalidLinkNeverAcceptable(t *testing.T) {
	t.Parallel()

	// Even with every content signal set, a dead link caps the score at 60.
	result := scholar.ValidationResult{
		LeadsToCorrectPage:     true,
		TitleMatches:           true,
		ApplicationFormPresent: true,
		ContactInfoPresent:     true,
		DeadlineInfoPresent:    true,
	}
	score := Score(result)
	require.Equal(t, 60, score)
	require.False(t, Acceptable(score))
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	result := scholar.ValidationResult{
		ApplicationLinkValid: true,
		TitleMatches:         true,
	}
	first := Score(result)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Score(result))
	}
	require.GreaterOrEqual(t, first, 0)
	require.LessOrEqual(t, first, 100)
}
