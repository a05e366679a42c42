// Package validator probes application links and classifies what they lead to.
package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// Defaults applied when Config fields are zero.
const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodyBytes = 2 << 20

	defaultUserAgent       = "scholarship-ingest/1.0"
	defaultMobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

// Config controls probe behavior.
type Config struct {
	// Timeout bounds the whole validation pass for one candidate.
	Timeout time.Duration
	// MaxRedirects is the redirect hop limit before RedirectLoop.
	MaxRedirects int
	// MaxBodyBytes caps how much of the final page is read for analysis.
	MaxBodyBytes int64
	UserAgent    string
	// MobileUserAgent is used for the mobile reachability re-probe.
	MobileUserAgent string
	// SkipMobileProbe disables step 4 entirely.
	SkipMobileProbe bool
}

// ContentSignals are the page-content facts an Analyzer extracts.
type ContentSignals struct {
	LeadsToCorrectPage     bool
	TitleMatches           bool
	ApplicationFormPresent bool
	ContactInfoPresent     bool
	DeadlineInfoPresent    bool
}

// Analyzer extracts content signals from the final page. It is the pluggable
// content-analysis capability; HeuristicAnalyzer is the default.
type Analyzer interface {
	Analyze(html []byte, candidate scholar.Candidate) ContentSignals
}

// MobileProber checks how a URL resolves for a mobile client. The default
// re-issues the probe with a mobile user agent; a headless implementation can
// render the page instead.
type MobileProber interface {
	Probe(ctx context.Context, rawURL string) (MobileProbe, error)
}

// MobileProbe is the condensed outcome of a mobile reachability check.
type MobileProbe struct {
	StatusCode int
	FinalURL   string
}

// Validator implements scholar.Validator over plain HTTP probes plus an
// Analyzer for content checks.
type Validator struct {
	cfg      Config
	client   *http.Client
	insecure *http.Client
	analyzer Analyzer
	mobile   MobileProber
	logger   *zap.Logger
}

// New builds a Validator. A nil analyzer falls back to the heuristic one and
// a nil mobile prober to the user-agent re-probe.
func New(cfg Config, analyzer Analyzer, mobile MobileProber, logger *zap.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MobileUserAgent == "" {
		cfg.MobileUserAgent = defaultMobileUserAgent
	}
	if analyzer == nil {
		analyzer = NewHeuristicAnalyzer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		cfg:      cfg,
		analyzer: analyzer,
		logger:   logger,
	}
	checkRedirect := func(_ *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return scholar.ErrRedirectLoop
		}
		return nil
	}
	v.client = &http.Client{
		Transport:     newTransport(false),
		CheckRedirect: checkRedirect,
	}
	// Used only to re-probe after a certificate verification failure, so the
	// rest of the analysis can still run against the page.
	v.insecure = &http.Client{
		Transport:     newTransport(true),
		CheckRedirect: checkRedirect,
	}
	if mobile == nil {
		mobile = &uaMobileProber{client: v.client, userAgent: cfg.MobileUserAgent}
	}
	v.mobile = mobile
	return v
}

func newTransport(skipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipVerify, //nolint:gosec // cert-failure re-probe only
		},
	}
}

// Validate runs the full probe sequence against the candidate's application
// link. Lethal failures short-circuit; certificate, content, and mobile
// findings only lower the eventual score.
func (v *Validator) Validate(ctx context.Context, candidate scholar.Candidate) scholar.ValidationResult {
	start := time.Now()
	result := v.validate(ctx, candidate)
	metrics.ObserveValidation(result.ApplicationLinkValid, time.Since(start))
	return result
}

func (v *Validator) validate(ctx context.Context, candidate scholar.Candidate) scholar.ValidationResult {
	var result scholar.ValidationResult

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	resp, body, err := v.fetch(ctx, v.client, candidate.ApplicationLink, v.cfg.UserAgent)
	tlsInvalid := false
	if err != nil {
		var certErr *tls.CertificateVerificationError
		if !errors.As(err, &certErr) {
			result.Errors = append(result.Errors, classifyFetchError(err))
			return result
		}
		// A bad certificate is a scoring signal, not a dead link. Re-probe
		// without verification so status and content checks still run.
		tlsInvalid = true
		resp, body, err = v.fetch(ctx, v.insecure, candidate.ApplicationLink, v.cfg.UserAgent)
		if err != nil {
			result.Errors = append(result.Errors, classifyFetchError(err))
			return result
		}
	}
	result.HTTPStatus = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()

	if resp.StatusCode != http.StatusOK {
		result.Errors = append(result.Errors, fmt.Sprintf("HttpError(%d)", resp.StatusCode))
		return result
	}
	result.ApplicationLinkValid = true

	if !tlsInvalid && resp.TLS != nil && resp.Request.URL.Scheme == "https" {
		result.SSLValid = true
	} else {
		result.Errors = append(result.Errors, "TlsInvalid")
	}

	signals := v.analyzer.Analyze(body, candidate)
	result.LeadsToCorrectPage = signals.LeadsToCorrectPage
	result.TitleMatches = signals.TitleMatches
	result.ApplicationFormPresent = signals.ApplicationFormPresent
	result.ContactInfoPresent = signals.ContactInfoPresent
	result.DeadlineInfoPresent = signals.DeadlineInfoPresent
	if !signals.LeadsToCorrectPage {
		result.Errors = append(result.Errors, "ContentMismatch")
	}

	if !v.cfg.SkipMobileProbe {
		v.probeMobile(ctx, candidate.ApplicationLink, resp, &result)
	} else {
		result.MobileReachable = true
	}
	return result
}

// probeMobile repeats the probe with a mobile client. Divergence is recorded
// as an error but is never lethal.
func (v *Validator) probeMobile(
	ctx context.Context,
	rawURL string,
	desktop *http.Response,
	result *scholar.ValidationResult,
) {
	probe, err := v.mobile.Probe(ctx, rawURL)
	if err != nil {
		v.logger.Debug("mobile probe failed", zap.String("url", rawURL), zap.Error(err))
		result.Errors = append(result.Errors, "MobileMismatch")
		return
	}
	if probe.StatusCode/100 != desktop.StatusCode/100 || hostOf(probe.FinalURL) != desktop.Request.URL.Hostname() {
		result.Errors = append(result.Errors, "MobileMismatch")
		return
	}
	result.MobileReachable = true
}

// fetch issues a GET and reads at most MaxBodyBytes of the final page.
func (v *Validator) fetch(ctx context.Context, client *http.Client, rawURL, userAgent string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.cfg.MaxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

// ResolveFinal follows redirects for a URL and reports the final location and
// status. The health monitor's repairer uses it to re-resolve source pages.
func (v *Validator) ResolveFinal(ctx context.Context, rawURL string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	resp, _, err := v.fetch(ctx, v.client, rawURL, v.cfg.UserAgent)
	if err != nil {
		return "", 0, err
	}
	return resp.Request.URL.String(), resp.StatusCode, nil
}

func classifyFetchError(err error) string {
	switch {
	case errors.Is(err, scholar.ErrRedirectLoop):
		return "RedirectLoop"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "TlsInvalid"
	}
	return "NetworkUnreachable"
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// uaMobileProber approximates mobile rendering by re-fetching with a mobile
// user agent.
type uaMobileProber struct {
	client    *http.Client
	userAgent string
}

func (p *uaMobileProber) Probe(ctx context.Context, rawURL string) (MobileProbe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return MobileProbe{}, fmt.Errorf("build mobile request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return MobileProbe{}, fmt.Errorf("mobile probe: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body unused
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)); err != nil {
		return MobileProbe{}, fmt.Errorf("drain mobile body: %w", err)
	}
	return MobileProbe{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

var _ scholar.Validator = (*Validator)(nil)
