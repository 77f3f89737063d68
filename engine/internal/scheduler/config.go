package scheduler

import (
	"context"
	"time"

	"cartographer/engine/internal/fetcher"
	"cartographer/engine/internal/renderer"
	"cartographer/engine/internal/robots"
	"cartographer/engine/models"
)

// Config holds the scheduler's crawl-shape tunables. Everything rendering-
// or fetch-specific lives in the Renderer/Fetcher configs the caller built
// separately; this is just what governs admission and stopping.
type Config struct {
	Seeds           []string
	MaxPages        int // 0 = unlimited
	MaxDepth        int // 0 = unlimited
	FollowExternal  bool
	Concurrency     int
	ErrorBudget     float64 // fraction of items (after a warm-up sample) that may error before the crawl aborts; 0 disables
	ParamPolicy     models.ParamPolicy
	ParamBlockList  []string
	Accessibility   bool
	CheckpointEvery int           // pages between checkpoint saves; 0 (with CheckpointEach 0) uses checkpoint.FirePolicy's 500-page default, negative disables the page trigger
	CheckpointEach  time.Duration // time between checkpoint saves; 0 disables the time trigger
	ShutdownTimeout time.Duration // bound on draining in-flight tasks after Cancel
	MaxRSSPercent   float64       // auto-pause threshold, 0 disables
}

// Fetcher is the subset of fetcher.Fetcher the scheduler depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error)
}

// Renderer is the subset of renderer.Renderer the scheduler depends on.
type Renderer interface {
	RenderPage(ctx context.Context, finalURL string, raw renderer.RawFetch) (*renderer.RenderResult, error)
}

// RobotsChecker is the subset of robots.Cache the scheduler depends on.
type RobotsChecker interface {
	ShouldFetch(rawURL string) robots.Result
	OverrideUsed() bool
}

// Limiter is the subset of ratelimit.Limiter the scheduler depends on.
type Limiter interface {
	TryConsume(host string) bool
}

// ArchiveWriter is the subset of archive.Writer the scheduler depends on.
type ArchiveWriter interface {
	WritePage(models.PageRecord) error
	WriteEdge(models.EdgeRecord) error
	WriteAsset(models.AssetRecord) error
	WriteError(models.ErrorRecord) error
	WriteAccessibility(models.AccessibilityRecord) error
	WriteConsole(models.ConsoleRecord) error
	WriteStyles(models.ComputedTextNodeRecord) error
	WriteScreenshot(urlKey, viewport string, jpeg []byte) (string, error)
	WriteFavicon(ctx context.Context, originKey, faviconURL string) (string, error)
	FlushAndSync() error
	GetPartPointers() []models.PartPointer
	SetCompletionReason(models.CompletionReason)
	Finalize() (string, error)
}

// CheckpointStore is the subset of checkpoint.Store the scheduler depends on.
type CheckpointStore interface {
	Save(cp models.Checkpoint, visited []string, frontier []models.FrontierItem) error
}

// EventSink receives scheduler lifecycle and progress events. Implemented
// by the event bus (C10); nil-safe default is noopSink.
type EventSink interface {
	Emit(eventType string, payload map[string]any)
}

type noopSink struct{}

func (noopSink) Emit(string, map[string]any) {}

// Dependencies bundles every collaborator the scheduler dispatches into.
type Dependencies struct {
	Robots      RobotsChecker
	Limiter     Limiter
	Fetcher     Fetcher
	Renderer    Renderer
	Writer      ArchiveWriter
	Checkpoints CheckpointStore
	Events      EventSink
	RSSSampler  func() float64 // percent of configured max RSS, 0..1+
}
