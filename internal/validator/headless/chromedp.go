// Package headless renders pages in headless Chrome for mobile reachability
// checks.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"

	"github.com/grantwell/scholarship-ingest/internal/validator"
)

// Config controls the behavior of the headless prober.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Prober implements validator.MobileProber using chromedp with mobile device
// emulation, catching pages whose mobile rendering path differs from the
// static response.
type Prober struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewProber creates a headless prober backed by chromedp.
func NewProber(cfg Config) (*Prober, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Prober{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (p *Prober) Close() {
	p.allocCancel()
}

// Probe navigates with an emulated mobile device and reports the final URL
// and document status.
func (p *Prober) Probe(ctx context.Context, rawURL string) (validator.MobileProbe, error) {
	if err := p.acquire(ctx); err != nil {
		return validator.MobileProbe{}, err
	}
	defer p.release()

	taskCtx, taskCancel := chromedp.NewContext(p.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, p.cfg.NavigationTimeout)
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var finalURL string
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(390, 844, chromedp.EmulateMobile),
		chromedp.Navigate(rawURL),
		chromedp.Location(&finalURL),
	}
	if p.cfg.UserAgent != "" {
		tasks = append(chromedp.Tasks{chromedp.Emulate(deviceOverride{ua: p.cfg.UserAgent})}, tasks...)
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return validator.MobileProbe{}, fmt.Errorf("headless navigate: %w", err)
	}

	status := meta.status()
	if status == 0 {
		status = 200
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return validator.MobileProbe{StatusCode: status, FinalURL: finalURL}, nil
}

func (p *Prober) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless acquire: %w", ctx.Err())
	}
}

func (p *Prober) release() {
	if p.limiter != nil {
		<-p.limiter
	}
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu         sync.Mutex
	statusCode int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		m.statusCode = int(resp.Response.Status)
	}
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

// deviceOverride satisfies chromedp.Device for a bare user-agent override.
type deviceOverride struct {
	ua string
}

func (d deviceOverride) Device() device.Info {
	return device.Info{
		Name:      "mobile-override",
		UserAgent: d.ua,
		Width:     390,
		Height:    844,
		Scale:     3,
		Mobile:    true,
		Touch:     true,
	}
}

var _ validator.MobileProber = (*Prober)(nil)
