package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

type fakeResolver struct {
	finals map[string]resolved
}

type resolved struct {
	url    string
	status int
	err    error
}

func (r *fakeResolver) ResolveFinal(_ context.Context, rawURL string) (string, int, error) {
	if res, ok := r.finals[rawURL]; ok {
		return res.url, res.status, res.err
	}
	return "", 0, errors.New("unreachable")
}

func TestSourceURLRepairerFollowsRedirect(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{finals: map[string]resolved{
		"https://old.example/apply": {url: "https://new.example/apply", status: 200},
	}}
	r, err := NewSourceURLRepairer(resolver)
	require.NoError(t, err)

	result, err := r.AttemptRepair(context.Background(), scholar.Scholarship{
		ApplicationLink: "https://old.example/apply",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "https://new.example/apply", result.NewURL)
}

func TestSourceURLRepairerUpgradesToHTTPS(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{finals: map[string]resolved{
		"https://site.example/apply": {url: "https://site.example/apply", status: 200},
	}}
	r, err := NewSourceURLRepairer(resolver)
	require.NoError(t, err)

	result, err := r.AttemptRepair(context.Background(), scholar.Scholarship{
		ApplicationLink: "http://site.example/apply",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "https://site.example/apply", result.NewURL)
}

func TestSourceURLRepairerFallsBackToSourceURL(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{finals: map[string]resolved{
		"https://acme.example/scholarships": {url: "https://acme.example/scholarships", status: 200},
	}}
	r, err := NewSourceURLRepairer(resolver)
	require.NoError(t, err)

	result, err := r.AttemptRepair(context.Background(), scholar.Scholarship{
		ApplicationLink: "https://acme.example/apply",
		SourceURL:       "https://acme.example/scholarships",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "https://acme.example/scholarships", result.NewURL)
}

func TestSourceURLRepairerGivesUp(t *testing.T) {
	t.Parallel()

	r, err := NewSourceURLRepairer(&fakeResolver{})
	require.NoError(t, err)

	result, err := r.AttemptRepair(context.Background(), scholar.Scholarship{
		ApplicationLink: "https://gone.example/apply",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestRepairerRegistryPrefersSourceSpecific(t *testing.T) {
	t.Parallel()

	fallback := &fixedRepairer{}
	special := &fixedRepairer{result: scholar.RepairResult{Success: true, NewURL: "https://special.example"}}

	registry := NewRepairerRegistry(fallback)
	require.NoError(t, registry.Register("acme", special))

	require.Same(t, special, registry.For("acme"))
	require.Same(t, fallback, registry.For("other"))
}
