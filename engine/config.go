package engine

import (
	"time"

	"cartographer/engine/models"
)

// Config is the public configuration surface for Start. Every field maps
// directly to one of spec.md §6's recognized options; sub-structs group
// them the way the table does (render.*, http.*, discovery.*, ...).
type Config struct {
	// Seeds are the depth-0 URLs a fresh crawl begins from. A resumed crawl
	// (Resume.StagingDir set) still uses them for the summary's seed list
	// and primary origin and re-offers them to the scheduler, which skips
	// any already admitted before the interruption.
	Seeds []string
	// OutAtlas is the destination archive path.
	OutAtlas string
	// MaxPages caps visited+enqueued; 0 means unlimited. Exceeding it sets
	// completion reason "capped".
	MaxPages int
	// MaxDepth is the BFS cutoff; -1 means unlimited, 0 means seeds only.
	MaxDepth int

	Render        RenderConfig
	HTTP          HTTPConfig
	Discovery     DiscoveryConfig
	Robots        RobotsConfig
	Memory        MemoryConfig
	Accessibility AccessibilityConfig
	Checkpoint    CheckpointConfig
	Shutdown      ShutdownConfig
	Resume        ResumeConfig
	Media         MediaConfig
	CLI           CLIConfig
}

// RenderConfig selects the render pipeline (§4.5) and bounds one page's
// navigation.
type RenderConfig struct {
	Mode               models.RenderMode
	Concurrency        int
	TimeoutMs          int
	MaxRequestsPerPage int
	MaxBytesPerPage    int64
}

// HTTPConfig bounds request rate and identifies the crawler to servers and
// to robots.txt matching.
type HTTPConfig struct {
	RPS        float64
	PerHostRPS float64
	UserAgent  string
}

// DiscoveryConfig governs which discovered links get enqueued and how
// their query strings are normalized (§4.1).
type DiscoveryConfig struct {
	FollowExternal bool
	ParamPolicy    models.ParamPolicy
	BlockList      []string
}

// RobotsConfig governs robots.txt enforcement (§4.2).
type RobotsConfig struct {
	Respect      bool
	OverrideUsed bool
}

// MemoryConfig bounds RSS before the crawl auto-pauses and before the
// renderer recycles its browser context.
type MemoryConfig struct {
	MaxRSSMB int
}

// AccessibilityConfig toggles the accessibility dataset.
type AccessibilityConfig struct {
	Enabled bool
}

// CheckpointConfig tunes how often progress is durably snapshotted (§4.8).
type CheckpointConfig struct {
	Enabled      bool
	Interval     int // pages between saves; 0 disables the page trigger
	EverySeconds int // seconds between saves; 0 disables the time trigger
}

// ShutdownConfig bounds how long Cancel waits for in-flight tasks.
type ShutdownConfig struct {
	GracefulTimeoutMs int
}

// ResumeConfig, when StagingDir is set, resumes a prior crawl from its
// checkpoint instead of starting fresh from Seeds.
type ResumeConfig struct {
	CrawlID    string
	StagingDir string
}

// MediaConfig holds the screenshot and favicon settings. Only
// Screenshots.Quality is read (as the renderer's JPEG quality): full-mode
// pages always get desktop and mobile screenshots and each origin's favicon
// is always downloaded, whatever Enabled, Desktop, Mobile and Format say.
type MediaConfig struct {
	Screenshots MediaScreenshotsConfig
	Favicons    MediaFaviconsConfig
}

type MediaScreenshotsConfig struct {
	Enabled bool
	Desktop bool
	Mobile  bool
	Quality int
	Format  string
}

type MediaFaviconsConfig struct {
	Enabled bool
}

// CLIConfig holds the one option the out-of-scope CLI layer feeds through
// the façade rather than handling itself.
type CLIConfig struct {
	// ErrorBudget is the fraction of items (after a warm-up sample) that
	// may error before the crawl aborts with completion reason
	// "error_budget". 0 disables the budget.
	ErrorBudget float64
}

// Defaults returns spec-consistent defaults: static-fetch rendering, a
// conservative global+per-host rate, robots respected, checkpoints every
// 500 pages, and a 30s graceful shutdown window.
func Defaults() Config {
	return Config{
		MaxPages: 0,
		MaxDepth: -1,
		Render: RenderConfig{
			Mode:               models.RenderModeRaw,
			Concurrency:        8,
			TimeoutMs:          30_000,
			MaxRequestsPerPage: 200,
			MaxBytesPerPage:    50 << 20,
		},
		HTTP: HTTPConfig{
			RPS:        8,
			PerHostRPS: 2,
			UserAgent:  "CartographerBot/1.0",
		},
		Discovery: DiscoveryConfig{
			FollowExternal: false,
			ParamPolicy:    models.ParamPolicyStrip,
		},
		Robots: RobotsConfig{
			Respect: true,
		},
		Memory: MemoryConfig{
			MaxRSSMB: 0,
		},
		Checkpoint: CheckpointConfig{
			Enabled:  true,
			Interval: 500,
		},
		Shutdown: ShutdownConfig{
			GracefulTimeoutMs: 30_000,
		},
		Media: MediaConfig{
			Screenshots: MediaScreenshotsConfig{
				Desktop: true,
				Mobile:  true,
				Quality: 80,
				Format:  "jpeg",
			},
		},
	}
}

func (c Config) shutdownTimeout() time.Duration {
	if c.Shutdown.GracefulTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.Shutdown.GracefulTimeoutMs) * time.Millisecond
}

func (c Config) checkpointEvery() time.Duration {
	if !c.Checkpoint.Enabled || c.Checkpoint.EverySeconds <= 0 {
		return 0
	}
	return time.Duration(c.Checkpoint.EverySeconds) * time.Second
}

// checkpointInterval returns the scheduler's page interval. A disabled
// checkpoint config or a zero Interval yields -1, which switches the page
// trigger off without FirePolicy's 500-page fallback.
func (c Config) checkpointInterval() int {
	if !c.Checkpoint.Enabled || c.Checkpoint.Interval <= 0 {
		return -1
	}
	return c.Checkpoint.Interval
}

// schedulerMaxDepth translates the façade's -1-means-unlimited convention
// into the scheduler's 0-means-unlimited one.
func (c Config) schedulerMaxDepth() int {
	if c.MaxDepth < 0 {
		return 0
	}
	return c.MaxDepth
}

// specLevelFor reports the manifest spec level a crawl configured with mode
// will produce, per spec.md §3 invariant 8.
func specLevelFor(mode models.RenderMode) int {
	switch mode {
	case models.RenderModeFull:
		return 3
	case models.RenderModePrerender:
		return 2
	default:
		return 1
	}
}
