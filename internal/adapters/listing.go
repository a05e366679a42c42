package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

const (
	defaultDelay       = 1 * time.Second
	defaultRandomDelay = 2 * time.Second
)

// Selectors maps candidate fields to CSS selectors relative to the item
// selector. Empty selectors leave the field blank.
type Selectors struct {
	// Item matches one scholarship entry on the listing page.
	Item        string `mapstructure:"item" yaml:"item"`
	Title       string `mapstructure:"title" yaml:"title"`
	Description string `mapstructure:"description" yaml:"description"`
	Eligibility string `mapstructure:"eligibility" yaml:"eligibility"`
	Amount      string `mapstructure:"amount" yaml:"amount"`
	Deadline    string `mapstructure:"deadline" yaml:"deadline"`
	Provider    string `mapstructure:"provider" yaml:"provider"`
	Category    string `mapstructure:"category" yaml:"category"`
	// Link selects the anchor whose href is the application link.
	Link string `mapstructure:"link" yaml:"link"`
}

// ListingConfig describes one selector-driven listing source.
type ListingConfig struct {
	Name            string        `mapstructure:"name" yaml:"name"`
	Priority        int           `mapstructure:"priority" yaml:"priority"`
	StartURLs       []string      `mapstructure:"start_urls" yaml:"start_urls"`
	AllowedDomains  []string      `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	Selectors       Selectors     `mapstructure:"selectors" yaml:"selectors"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxDepth        int           `mapstructure:"max_depth" yaml:"max_depth"`
	Parallelism     int           `mapstructure:"parallelism" yaml:"parallelism"`
	Delay           time.Duration `mapstructure:"delay" yaml:"delay"`
	RandomDelay     time.Duration `mapstructure:"random_delay" yaml:"random_delay"`
	DefaultProvider string        `mapstructure:"default_provider" yaml:"default_provider"`
	DefaultCategory string        `mapstructure:"default_category" yaml:"default_category"`
}

// ListingAdapter scrapes scholarship listing pages with Colly, extracting one
// candidate per item selector match.
type ListingAdapter struct {
	cfg    ListingConfig
	logger *zap.Logger
}

// NewListingAdapter validates the config and returns an adapter. Allowed
// domains default to the hosts of the start URLs.
func NewListingAdapter(cfg ListingConfig, logger *zap.Logger) (*ListingAdapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if len(cfg.StartURLs) == 0 {
		return nil, fmt.Errorf("source %s: at least one start url is required", cfg.Name)
	}
	if cfg.Selectors.Item == "" || cfg.Selectors.Title == "" || cfg.Selectors.Link == "" {
		return nil, fmt.Errorf("source %s: item, title, and link selectors are required", cfg.Name)
	}
	if len(cfg.AllowedDomains) == 0 {
		for _, raw := range cfg.StartURLs {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("source %s: parse start url %q: %w", cfg.Name, raw, err)
			}
			cfg.AllowedDomains = append(cfg.AllowedDomains, u.Hostname())
		}
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	// Listing sites throttle aggressive crawlers. Default to a jittered
	// 1-3s gap between requests unless the source config says otherwise.
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.RandomDelay <= 0 {
		cfg.RandomDelay = defaultRandomDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingAdapter{
		cfg:    cfg,
		logger: logger.Named("adapter").With(zap.String("source", cfg.Name)),
	}, nil
}

// Name returns the source name.
func (a *ListingAdapter) Name() string { return a.cfg.Name }

// Priority returns the scheduling priority; higher runs first.
func (a *ListingAdapter) Priority() int { return a.cfg.Priority }

// Produce crawls the configured listing pages and returns a closed channel of
// every candidate extracted. A source that answered but listed nothing yields
// an empty channel and no error; a source that never answered yields an error.
func (a *ListingAdapter) Produce(ctx context.Context) (<-chan scholar.Candidate, error) {
	collector, err := a.newCollector()
	if err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		candidates []scholar.Candidate
		firstErr   error
		responses  int
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnResponse(func(*colly.Response) {
		mu.Lock()
		responses++
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		a.logger.Warn("listing request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	})
	collector.OnHTML(a.cfg.Selectors.Item, func(e *colly.HTMLElement) {
		candidate, ok := a.extract(e)
		if !ok {
			return
		}
		mu.Lock()
		candidates = append(candidates, candidate)
		mu.Unlock()
	})

	for _, u := range a.cfg.StartURLs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := collector.Visit(u); err != nil {
			a.logger.Warn("visit failed", zap.String("url", u), zap.Error(err))
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}
	collector.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if responses == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no responses from %d start urls", len(a.cfg.StartURLs))
		}
		return nil, &scholar.AdapterError{Source: a.cfg.Name, Err: firstErr}
	}

	out := make(chan scholar.Candidate, len(candidates))
	for _, c := range candidates {
		out <- c
	}
	close(out)
	return out, nil
}

func (a *ListingAdapter) newCollector() (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.AllowedDomains(a.cfg.AllowedDomains...),
		colly.MaxDepth(a.cfg.MaxDepth),
		colly.Async(true),
	}
	if a.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(a.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.AllowURLRevisit = false

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: a.cfg.Parallelism,
		Delay:       a.cfg.Delay,
		RandomDelay: a.cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("source %s: set collector limits: %w", a.cfg.Name, err)
	}
	return collector, nil
}

func (a *ListingAdapter) extract(e *colly.HTMLElement) (scholar.Candidate, bool) {
	sel := a.cfg.Selectors
	link := e.ChildAttr(sel.Link, "href")
	if link != "" {
		link = e.Request.AbsoluteURL(link)
	}
	candidate := scholar.Candidate{
		Title:           clean(e.ChildText(sel.Title)),
		Description:     clean(childTextIf(e, sel.Description)),
		Eligibility:     clean(childTextIf(e, sel.Eligibility)),
		Amount:          clean(childTextIf(e, sel.Amount)),
		Deadline:        clean(childTextIf(e, sel.Deadline)),
		Provider:        clean(childTextIf(e, sel.Provider)),
		Category:        clean(childTextIf(e, sel.Category)),
		ApplicationLink: link,
		SourceURL:       e.Request.URL.String(),
		SourceName:      a.cfg.Name,
	}
	if candidate.Provider == "" {
		candidate.Provider = a.cfg.DefaultProvider
	}
	if candidate.Category == "" {
		candidate.Category = a.cfg.DefaultCategory
	}
	if candidate.Title == "" && candidate.ApplicationLink == "" {
		return scholar.Candidate{}, false
	}
	return candidate, true
}

func childTextIf(e *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return e.ChildText(selector)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
