package validator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

func init() {
	metrics.Init()
}

const scholarshipPage = `<!DOCTYPE html><html>
<head><title>STEM Futures Scholarship | Acme Foundation</title></head>
<body>
<h1>STEM Futures Scholarship</h1>
<p>This scholarship supports undergraduate students. Eligibility: enrolled full time.</p>
<p>Application deadline: March 15, 2026. Contact us at <a href="mailto:aid@acme.org">aid@acme.org</a>.</p>
<form action="/apply" method="post">
  <input type="text" name="name">
  <input type="email" name="email">
</form>
</body></html>`

func testCandidate(link string) scholar.Candidate {
	return scholar.Candidate{
		Title:           "STEM Futures Scholarship",
		Eligibility:     "undergraduate students enrolled full time",
		Provider:        "Acme Foundation",
		ApplicationLink: link,
		SourceName:      "acme",
	}
}

func TestValidate_HealthyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, scholarshipPage)
	}))
	defer srv.Close()

	v := New(Config{}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL))

	require.True(t, result.ApplicationLinkValid)
	require.Equal(t, http.StatusOK, result.HTTPStatus)
	require.True(t, result.LeadsToCorrectPage)
	require.True(t, result.TitleMatches)
	require.True(t, result.ApplicationFormPresent)
	require.True(t, result.ContactInfoPresent)
	require.True(t, result.DeadlineInfoPresent)
	require.True(t, result.MobileReachable)
	require.False(t, result.SSLValid, "plain http must not count as secure")
	require.Contains(t, result.Errors, "TlsInvalid")
}

func TestValidate_NotFoundShortCircuits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	v := New(Config{}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL+"/gone"))

	require.False(t, result.ApplicationLinkValid)
	require.Equal(t, http.StatusNotFound, result.HTTPStatus)
	require.Contains(t, result.Errors, "HttpError(404)")
	require.False(t, result.LeadsToCorrectPage, "content checks are skipped after a lethal failure")
	require.False(t, result.ApplicationFormPresent)
}

func TestValidate_RedirectLoop(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	v := New(Config{MaxRedirects: 5}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL))

	require.False(t, result.ApplicationLinkValid)
	require.Contains(t, result.Errors, "RedirectLoop")
}

func TestValidate_RedirectRecordsFinalURL(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, scholarshipPage)
	}))
	defer target.Close()
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/final", http.StatusMovedPermanently)
	}))
	defer hop.Close()

	v := New(Config{SkipMobileProbe: true}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(hop.URL))

	require.True(t, result.ApplicationLinkValid)
	require.Equal(t, target.URL+"/final", result.FinalURL)
}

func TestValidate_TimeoutIsLethal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	v := New(Config{Timeout: 100 * time.Millisecond}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL))

	require.False(t, result.ApplicationLinkValid)
	require.Contains(t, result.Errors, "Timeout")
}

func TestValidate_SelfSignedCertIsNonLethal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, scholarshipPage)
	}))
	defer srv.Close()

	v := New(Config{SkipMobileProbe: true}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL))

	require.True(t, result.ApplicationLinkValid, "a bad certificate must not kill the link")
	require.Equal(t, http.StatusOK, result.HTTPStatus)
	require.False(t, result.SSLValid)
	require.Equal(t, 1, countOf(result.Errors, "TlsInvalid"))
	require.True(t, result.LeadsToCorrectPage, "content analysis still runs on the re-probed page")
	require.True(t, result.ApplicationFormPresent)
}

func countOf(errs []string, want string) int {
	n := 0
	for _, e := range errs {
		if e == want {
			n++
		}
	}
	return n
}

func TestValidate_UnreachableHost(t *testing.T) {
	t.Parallel()

	v := New(Config{Timeout: 2 * time.Second}, nil, nil, nil)
	result := v.Validate(context.Background(), testCandidate("http://127.0.0.1:1/apply"))

	require.False(t, result.ApplicationLinkValid)
	require.NotEmpty(t, result.Errors)
}

type fakeMobileProber struct {
	probe MobileProbe
	err   error
}

func (f *fakeMobileProber) Probe(context.Context, string) (MobileProbe, error) {
	return f.probe, f.err
}

func TestValidate_MobileDivergenceIsNonLethal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, scholarshipPage)
	}))
	defer srv.Close()

	mobile := &fakeMobileProber{probe: MobileProbe{StatusCode: 500, FinalURL: srv.URL}}
	v := New(Config{}, nil, mobile, nil)
	result := v.Validate(context.Background(), testCandidate(srv.URL))

	require.True(t, result.ApplicationLinkValid)
	require.False(t, result.MobileReachable)
	require.Contains(t, result.Errors, "MobileMismatch")
}

func TestResolveFinal(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer target.Close()
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/canonical", http.StatusFound)
	}))
	defer hop.Close()

	v := New(Config{}, nil, nil, nil)
	finalURL, status, err := v.ResolveFinal(context.Background(), hop.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, target.URL+"/canonical", finalURL)
}
