// Package renderer implements the three-mode render pipeline (C5): static
// fetch ("raw"), browser prerender, and full-audit. The browser-backed
// modes are implemented against the Capability interface so that the
// pipeline never depends on chromedp directly — test doubles substitute a
// fake Capability instead of launching a real browser (spec.md §9's
// "renderer capability boundary" design note).
package renderer

import (
	"context"
	"fmt"
	"time"

	"cartographer/engine/models"
)

// RawFetch is the subset of a Fetcher result the renderer needs.
type RawFetch struct {
	Body        []byte
	ContentType string
}

// NavConfig bounds a single page navigation.
type NavConfig struct {
	Mode               models.RenderMode
	TimeoutMs          int
	MaxRequestsPerPage int
	MaxBytesPerPage    int64
	DesktopViewport    [2]int
	MobileViewport     [2]int
	ScreenshotQuality  int
}

// NavOutcome is everything a browser-backed navigation produces.
type NavOutcome struct {
	DOM               string
	NavEndReason      models.NavEndReason
	RenderMs          int64
	StatusCode        int
	Performance       *models.Performance
	Console           []models.ConsoleRecord
	ComputedText      []models.ComputedTextNodeRecord
	ScreenshotDesktop []byte
	ScreenshotMobile  []byte
	Crashed           bool
}

// Capability abstracts "launches a headless browser, exposes navigation +
// DOM-serialization + screenshot + request-interception" — the only
// contract the renderer depends on. ChromedpCapability is the production
// implementation; tests provide fakes.
type Capability interface {
	Navigate(ctx context.Context, targetURL string, cfg NavConfig) (*NavOutcome, error)
	PagesRendered() int
	Recycle(ctx context.Context) error
	Close(ctx context.Context) error
}

// RenderResult is the operation's return value, per spec.md §4.5.
type RenderResult struct {
	ModeUsed          models.RenderMode
	NavEndReason      models.NavEndReason
	DOM               string
	DOMHash           string
	RenderMs          int64
	Performance       *models.Performance
	Console           []models.ConsoleRecord
	ComputedText      []models.ComputedTextNodeRecord
	ScreenshotDesktop []byte
	ScreenshotMobile  []byte
	ChallengeDetected bool
}

// Renderer dispatches to the static path or the shared Capability depending
// on configured mode.
type Renderer struct {
	browser    Capability
	cfg        Config
	rssSampler func() (percentOfMax float64)
}

// Config bundles the renderer's tunables, mirrored from engine.Config.
type Config struct {
	Mode                  models.RenderMode
	TimeoutMs             int
	MaxRequestsPerPage    int
	MaxBytesPerPage       int64
	RecycleAfterPages     int
	RecycleAtRSSPercent   float64
	ChallengeWaitMs       int
	ScreenshotQuality     int
	DesktopViewport       [2]int
	MobileViewport        [2]int
}

// DefaultConfig returns spec-consistent defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                models.RenderModeRaw,
		TimeoutMs:           30_000,
		MaxRequestsPerPage:  200,
		MaxBytesPerPage:     50 << 20,
		RecycleAfterPages:   50,
		RecycleAtRSSPercent: 0.70,
		ChallengeWaitMs:     15_000,
		ScreenshotQuality:   80,
		DesktopViewport:     [2]int{1440, 900},
		MobileViewport:      [2]int{390, 844},
	}
}

// New constructs a Renderer. browser may be nil if cfg.Mode is raw-only;
// InitBrowser lazily requires one otherwise.
func New(cfg Config, browser Capability, rssSampler func() float64) *Renderer {
	return &Renderer{browser: browser, cfg: cfg, rssSampler: rssSampler}
}

// InitBrowser is a no-op for raw mode and otherwise validates a browser
// capability is attached. The actual browser process lifecycle is managed
// by whatever constructed the Capability (see NewChromedpCapability in
// chromedp_capability.go).
func (r *Renderer) InitBrowser() error {
	if r.cfg.Mode == models.RenderModeRaw {
		return nil
	}
	if r.browser == nil {
		return errNoBrowserCapability
	}
	return nil
}

// CloseBrowser releases the browser, if any.
func (r *Renderer) CloseBrowser(ctx context.Context) error {
	if r.browser == nil {
		return nil
	}
	return r.browser.Close(ctx)
}

// ForceContextRecycle recycles the shared browser context on external
// demand (spec.md §4.5's "(c) on external demand").
func (r *Renderer) ForceContextRecycle(ctx context.Context) error {
	if r.browser == nil {
		return nil
	}
	return r.browser.Recycle(ctx)
}

// maybeAutoRecycle implements the two automatic recycling triggers: page
// count and RSS headroom.
func (r *Renderer) maybeAutoRecycle(ctx context.Context) {
	if r.browser == nil {
		return
	}
	if r.cfg.RecycleAfterPages > 0 && r.browser.PagesRendered() >= r.cfg.RecycleAfterPages {
		_ = r.browser.Recycle(ctx)
		return
	}
	if r.rssSampler != nil && r.cfg.RecycleAtRSSPercent > 0 && r.rssSampler() >= r.cfg.RecycleAtRSSPercent {
		_ = r.browser.Recycle(ctx)
	}
}

// RenderPage produces a (possibly-rendered) DOM for finalURL. rawFetch is
// read only in raw mode; browser-backed modes navigate to finalURL
// themselves. A crashed navigation is retried once, and a second crash
// fails the render.
func (r *Renderer) RenderPage(ctx context.Context, finalURL string, rawFetch RawFetch) (*RenderResult, error) {
	if r.cfg.Mode == models.RenderModeRaw {
		return r.renderRaw(rawFetch), nil
	}

	r.maybeAutoRecycle(ctx)

	navCfg := NavConfig{
		Mode:               r.cfg.Mode,
		TimeoutMs:          r.cfg.TimeoutMs,
		MaxRequestsPerPage: r.cfg.MaxRequestsPerPage,
		MaxBytesPerPage:    r.cfg.MaxBytesPerPage,
		DesktopViewport:    r.cfg.DesktopViewport,
		MobileViewport:     r.cfg.MobileViewport,
		ScreenshotQuality:  r.cfg.ScreenshotQuality,
	}

	outcome, err := r.browser.Navigate(ctx, finalURL, navCfg)
	if err == nil && outcome.Crashed {
		// The capability's crash breaker recycles the browser context if
		// this retry crashes as well.
		outcome, err = r.browser.Navigate(ctx, finalURL, navCfg)
		if err == nil && outcome.Crashed {
			return nil, fmt.Errorf("renderer: browser crashed twice navigating %s", finalURL)
		}
	}
	if err != nil {
		return nil, err
	}

	result := &RenderResult{
		ModeUsed:          r.cfg.Mode,
		NavEndReason:      outcome.NavEndReason,
		DOM:               outcome.DOM,
		RenderMs:          outcome.RenderMs,
		Performance:       outcome.Performance,
		Console:           outcome.Console,
		ComputedText:      outcome.ComputedText,
		ScreenshotDesktop: outcome.ScreenshotDesktop,
		ScreenshotMobile:  outcome.ScreenshotMobile,
	}

	detected, resolvedDOM := DetectChallenge(outcome.StatusCode, outcome.DOM)
	if detected {
		// Re-navigate every 500ms until the challenge clears or the
		// ChallengeWaitMs window ends.
		deadline := time.Now().Add(time.Duration(r.cfg.ChallengeWaitMs) * time.Millisecond)
		for time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
			reoutcome, rerr := r.browser.Navigate(ctx, finalURL, navCfg)
			if rerr != nil {
				break
			}
			stillDetected, _ := DetectChallenge(reoutcome.StatusCode, reoutcome.DOM)
			if !stillDetected {
				result.DOM = reoutcome.DOM
				result.NavEndReason = reoutcome.NavEndReason
				result.ChallengeDetected = false
				resolvedDOM = reoutcome.DOM
				detected = false
				break
			}
		}
		if detected {
			result.ChallengeDetected = true
			result.NavEndReason = models.NavEndError
		}
	}
	_ = resolvedDOM

	return result, nil
}

func (r *Renderer) renderRaw(rawFetch RawFetch) *RenderResult {
	start := time.Now()
	dom := string(rawFetch.Body)
	hash := hashBytes(rawFetch.Body)
	return &RenderResult{
		ModeUsed:     models.RenderModeRaw,
		NavEndReason: models.NavEndFetch,
		DOM:          dom,
		DOMHash:      hash,
		RenderMs:     time.Since(start).Milliseconds(),
	}
}

