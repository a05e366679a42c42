package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// FinalResolver follows a URL's redirect chain and reports where it lands.
// The link validator satisfies this.
type FinalResolver interface {
	ResolveFinal(ctx context.Context, rawURL string) (string, int, error)
}

// RepairerRegistry maps source names to repair strategies with a shared
// default. Sources with bespoke URL schemes can register their own repairer.
type RepairerRegistry struct {
	mu       sync.RWMutex
	bySource map[string]scholar.Repairer
	fallback scholar.Repairer
}

// NewRepairerRegistry returns a registry backed by the given default repairer.
func NewRepairerRegistry(fallback scholar.Repairer) *RepairerRegistry {
	return &RepairerRegistry{
		bySource: make(map[string]scholar.Repairer),
		fallback: fallback,
	}
}

// Register installs a source-specific repairer.
func (r *RepairerRegistry) Register(source string, repairer scholar.Repairer) error {
	if source == "" {
		return fmt.Errorf("source name is required")
	}
	if repairer == nil {
		return fmt.Errorf("repairer is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySource[source] = repairer
	return nil
}

// For returns the repairer to use for a source. May return nil when no
// fallback is configured.
func (r *RepairerRegistry) For(source string) scholar.Repairer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if repairer, ok := r.bySource[source]; ok {
		return repairer
	}
	return r.fallback
}

// SourceURLRepairer is the default repair strategy. It follows the broken
// link's redirect chain looking for a live landing URL, then falls back to an
// https upgrade for plain-http links.
type SourceURLRepairer struct {
	resolver FinalResolver
}

// NewSourceURLRepairer wires the repairer to a redirect resolver.
func NewSourceURLRepairer(resolver FinalResolver) (*SourceURLRepairer, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	return &SourceURLRepairer{resolver: resolver}, nil
}

// AttemptRepair probes replacement URLs for a record whose link went bad.
// Success requires a 2xx landing on a URL different from the broken one.
func (r *SourceURLRepairer) AttemptRepair(ctx context.Context, record scholar.Scholarship) (scholar.RepairResult, error) {
	for _, candidate := range r.candidates(record) {
		final, status, err := r.resolver.ResolveFinal(ctx, candidate)
		if err != nil || status < 200 || status >= 300 {
			continue
		}
		if final != "" && final != record.ApplicationLink {
			return scholar.RepairResult{Success: true, NewURL: final}, nil
		}
	}
	return scholar.RepairResult{}, nil
}

func (r *SourceURLRepairer) candidates(record scholar.Scholarship) []string {
	out := []string{record.ApplicationLink}
	if upgraded, ok := httpsUpgrade(record.ApplicationLink); ok {
		out = append(out, upgraded)
	}
	if record.SourceURL != "" && record.SourceURL != record.ApplicationLink {
		out = append(out, record.SourceURL)
	}
	return out
}

func httpsUpgrade(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Scheme, "http") {
		return "", false
	}
	u.Scheme = "https"
	return u.String(), true
}
