// Package engine is Cartographer's public façade: one Engine owns at most
// one crawl at a time, wiring the robots cache, rate limiter, fetcher,
// renderer, archive writer, checkpoint store, and scheduler together on
// Start and tearing the browser (if any) down on Cancel or completion.
//
// Grounded on the teacher's top-level engine.go, which played the same
// role for its own pipeline — a single struct assembled once per run from
// independently-testable internal packages, exposing state/progress polling
// and event subscription rather than a blocking call the caller has no
// visibility into while it runs.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cartographer/engine/internal/archive"
	"cartographer/engine/internal/checkpoint"
	"cartographer/engine/internal/fetcher"
	"cartographer/engine/internal/ratelimit"
	"cartographer/engine/internal/renderer"
	"cartographer/engine/internal/robots"
	"cartographer/engine/internal/scheduler"
	"cartographer/engine/internal/sysmem"
	"cartographer/engine/internal/telemetry/events"
	"cartographer/engine/internal/telemetry/health"
	"cartographer/engine/internal/telemetry/metrics"
	"cartographer/engine/internal/telemetry/policy"
	"cartographer/engine/internal/urlnorm"
	"cartographer/engine/models"
)

// State is the façade-level lifecycle state reported by Status, distinct
// from the scheduler's internal State enum (fewer values: callers don't
// need to distinguish canceling from finalizing).
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Progress mirrors spec.md §6's progress object.
type Progress struct {
	Queued         int
	InFlight       int
	Completed      int64
	Errors         int64
	PagesPerSecond float64
	EtaSeconds     *float64
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// Status is the engine façade's status() return value.
type Status struct {
	State        State
	Progress     Progress
	ManifestPath string
	Health       health.Snapshot
}

// Engine runs at most one crawl at a time. The zero value is not usable;
// construct with New.
type Engine struct {
	mu sync.Mutex

	sched   *scheduler.Scheduler
	browser *renderer.ChromedpCapability

	dispatcher *events.Dispatcher
	bus        events.Bus
	evaluator  *health.Evaluator

	crawlID     string
	archivePath string
	startedAt   time.Time
	targetPages int
	policy      policy.TelemetryPolicy
}

// New builds an idle façade. Every collaborator is constructed fresh inside
// Start instead of here, so Cancel followed by Start begins a genuinely new
// crawl rather than reusing torn-down state.
func New() *Engine {
	return &Engine{policy: policy.Default().Normalize()}
}

// dualSink fans a scheduler event out to both the callback Dispatcher (the
// façade's on/once/off surface) and the channel Bus (streaming/metrics
// consumers), so neither C10 mechanism goes unused once the scheduler is
// actually emitting events end to end.
type dualSink struct {
	crawlID    string
	dispatcher *events.Dispatcher
	bus        events.Bus
}

func (d dualSink) Emit(eventType string, payload map[string]any) {
	d.dispatcher.Emit(eventType, payload)
	_ = d.bus.Publish(events.Event{
		Time:     time.Now(),
		Category: events.CategoryPipeline,
		Type:     eventType,
		CrawlID:  d.crawlID,
		Fields:   payload,
	})
}

// Start assembles every collaborator and launches the crawl in the
// background; it returns once the dispatch loop has started, not once the
// crawl finishes. Call Wait to block for completion. Starting an already-
// running or paused Engine fails with models.ErrAlreadyRunning.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sched != nil {
		switch e.sched.Status().State {
		case scheduler.StateRunning, scheduler.StatePaused, scheduler.StateCanceling, scheduler.StateFinalizing:
			return models.ErrAlreadyRunning
		}
	}

	resuming := cfg.Resume.StagingDir != ""

	crawlID := cfg.Resume.CrawlID
	if crawlID == "" {
		crawlID = newCrawlID()
	}

	var writer *archive.Writer
	var snap *checkpoint.Snapshot
	var cpStore *checkpoint.Store
	var err error

	archiveCfg := archive.Config{
		Generator: "cartographer",
		Owner:     cfg.HTTP.UserAgent,
		Consumers: []string{"cartographer"},
	}

	if resuming {
		cpStore, err = checkpoint.NewStore(cfg.Resume.StagingDir)
		if err != nil {
			return fmt.Errorf("engine: open checkpoint store: %w", err)
		}
		var ok bool
		snap, ok, err = checkpoint.Load(cfg.Resume.StagingDir)
		if err != nil {
			return fmt.Errorf("engine: load checkpoint: %w", err)
		}
		if ok {
			writer, err = archive.Resume(cfg.Resume.StagingDir, cfg.OutAtlas, archiveCfg, snap.State.PartPointers)
		} else {
			writer, err = archive.Init(cfg.OutAtlas, archiveCfg)
		}
	} else {
		writer, err = archive.Init(cfg.OutAtlas, archiveCfg)
		if err == nil {
			cpStore, err = checkpoint.NewStore(writer.StagingDir())
		}
	}
	if err != nil {
		return fmt.Errorf("engine: init archive: %w", err)
	}

	var primaryOrigin string
	if len(cfg.Seeds) > 0 {
		if norm, ok := urlnorm.Normalize(cfg.Seeds[0]); ok {
			primaryOrigin = norm
		}
	}
	writer.SetSeeds(cfg.Seeds, primaryOrigin)
	writer.SetProvenance(archive.Provenance{
		Robots:    models.RobotsNote{RespectsRobotsTxt: cfg.Robots.Respect, OverrideUsed: cfg.Robots.OverrideUsed},
		SpecLevel: specLevelFor(cfg.Render.Mode),
	})

	robotsCache := robots.NewCache(cfg.HTTP.UserAgent, time.Hour, cfg.Robots.OverrideUsed || !cfg.Robots.Respect)
	limiter := ratelimit.NewLimiter(cfg.HTTP.PerHostRPS, cfg.HTTP.PerHostRPS*2, cfg.HTTP.RPS, nil)
	fetch := fetcher.New(fetcher.Config{
		Timeout:      time.Duration(cfg.Render.TimeoutMs) * time.Millisecond,
		UserAgent:    cfg.HTTP.UserAgent,
		MaxRedirects: 10,
		MaxBytes:     cfg.Render.MaxBytesPerPage,
	})

	rssSampler := sysmem.Sampler(cfg.Memory.MaxRSSMB)

	var browser *renderer.ChromedpCapability
	if cfg.Render.Mode != models.RenderModeRaw {
		browser, err = renderer.NewChromedpCapability(ctx, true)
		if err != nil {
			return fmt.Errorf("engine: launch browser: %w", err)
		}
	}

	rend := renderer.New(renderer.Config{
		Mode:                cfg.Render.Mode,
		TimeoutMs:           cfg.Render.TimeoutMs,
		MaxRequestsPerPage:  cfg.Render.MaxRequestsPerPage,
		MaxBytesPerPage:     cfg.Render.MaxBytesPerPage,
		RecycleAfterPages:   50,
		RecycleAtRSSPercent: 0.70,
		ChallengeWaitMs:     15_000,
		ScreenshotQuality:   cfg.Media.Screenshots.Quality,
		DesktopViewport:     [2]int{1440, 900},
		MobileViewport:      [2]int{390, 844},
	}, browser, rssSampler)
	if err := rend.InitBrowser(); err != nil {
		return fmt.Errorf("engine: init renderer: %w", err)
	}

	dispatcher := events.NewDispatcher(crawlID)
	bus := events.NewBus(metrics.NewNoopProvider())

	sched := scheduler.New(scheduler.Config{
		Seeds:           cfg.Seeds,
		MaxPages:        cfg.MaxPages,
		MaxDepth:        cfg.schedulerMaxDepth(),
		FollowExternal:  cfg.Discovery.FollowExternal,
		Concurrency:     cfg.Render.Concurrency,
		ErrorBudget:     cfg.CLI.ErrorBudget,
		ParamPolicy:     cfg.Discovery.ParamPolicy,
		ParamBlockList:  cfg.Discovery.BlockList,
		Accessibility:   cfg.Accessibility.Enabled,
		CheckpointEvery: cfg.checkpointInterval(),
		CheckpointEach:  cfg.checkpointEvery(),
		ShutdownTimeout: cfg.shutdownTimeout(),
		MaxRSSPercent:   rssPercentOf(cfg.Memory.MaxRSSMB),
	}, scheduler.Dependencies{
		Robots:      robotsCache,
		Limiter:     limiter,
		Fetcher:     fetch,
		Renderer:    rend,
		Writer:      writer,
		Checkpoints: cpStore,
		Events:      dualSink{crawlID: crawlID, dispatcher: dispatcher, bus: bus},
		RSSSampler:  rssSampler,
	}, crawlID)

	if snap != nil {
		sched.ApplySnapshot(snap)
	}

	e.sched = sched
	e.browser = browser
	e.dispatcher = dispatcher
	e.bus = bus
	e.crawlID = crawlID
	e.archivePath = ""
	e.startedAt = time.Now()
	e.targetPages = cfg.MaxPages
	e.evaluator = health.NewEvaluator(e.policy.Health.ProbeTTL,
		schedulerErrorProbe(sched, e.policy.Health),
		rssHeadroomProbe(rssSampler, e.policy.Health),
		frontierBacklogProbe(sched, e.policy.Health),
	)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("engine: start scheduler: %w", err)
	}

	go e.awaitFinish()

	return nil
}

// awaitFinish closes the browser capability once the scheduler reaches a
// terminal state, regardless of whether the caller ever calls Wait.
func (e *Engine) awaitFinish() {
	e.mu.Lock()
	sched := e.sched
	browser := e.browser
	e.mu.Unlock()
	if sched == nil {
		return
	}
	err := sched.Wait()
	e.mu.Lock()
	e.archivePath = sched.ArchivePath()
	e.mu.Unlock()
	if browser != nil {
		_ = browser.Close(context.Background())
	}
	_ = err
}

// Wait blocks until the current crawl reaches a terminal state and returns
// the sealed archive path, or the error that failed the run.
func (e *Engine) Wait() (string, error) {
	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil {
		return "", models.ErrNotRunning
	}
	if err := sched.Wait(); err != nil {
		return "", err
	}
	return sched.ArchivePath(), nil
}

// Pause suspends admission of new work; in-flight tasks run to completion.
func (e *Engine) Pause() error {
	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil {
		return models.ErrNotRunning
	}
	return sched.Pause()
}

// Resume continues a paused crawl.
func (e *Engine) Resume() error {
	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil {
		return models.ErrNotRunning
	}
	return sched.Resume()
}

// Cancel requests a graceful shutdown. A later Start call begins a fresh
// crawl; it does not resume this one (use Config.Resume for that).
func (e *Engine) Cancel() error {
	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil {
		return models.ErrNotRunning
	}
	return sched.Cancel()
}

// Status reports the current lifecycle state, progress, and a cached health
// rollup.
func (e *Engine) Status() Status {
	e.mu.Lock()
	sched := e.sched
	evaluator := e.evaluator
	startedAt := e.startedAt
	archivePath := e.archivePath
	e.mu.Unlock()

	if sched == nil {
		return Status{State: StateIdle}
	}

	sst := sched.Status()
	if archivePath == "" && sst.State == scheduler.StateDone {
		// awaitFinish may not have copied the path yet; the scheduler sets
		// it before entering StateDone.
		archivePath = sched.ArchivePath()
	}
	now := time.Now()
	elapsed := now.Sub(startedAt).Seconds()
	var pps float64
	if elapsed > 0 {
		pps = float64(sst.PagesWritten) / elapsed
	}

	var eta *float64
	if e.targetPages > 0 && pps > 0 {
		remaining := float64(e.targetPages) - float64(sst.PagesWritten)
		if remaining > 0 {
			v := remaining / pps
			eta = &v
		}
	}

	var snap health.Snapshot
	if evaluator != nil {
		snap = evaluator.Evaluate(context.Background())
	}

	return Status{
		State: facadeState(sst.State),
		Progress: Progress{
			Queued:         sst.FrontierPending,
			InFlight:       int(sst.InFlight),
			Completed:      sst.PagesWritten,
			Errors:         sst.ErrorsWritten,
			PagesPerSecond: pps,
			EtaSeconds:     eta,
			StartedAt:      startedAt,
			UpdatedAt:      now,
		},
		ManifestPath: archivePath,
		Health:       snap,
	}
}

// On registers fn for every future eventType event on the current crawl,
// returning an unsubscribe function. Valid only after Start.
func (e *Engine) On(eventType string, fn events.Handler) func() {
	e.mu.Lock()
	d := e.dispatcher
	e.mu.Unlock()
	if d == nil {
		return func() {}
	}
	return d.On(eventType, fn)
}

// Once registers fn for exactly the next eventType event.
func (e *Engine) Once(eventType string, fn events.Handler) func() {
	e.mu.Lock()
	d := e.dispatcher
	e.mu.Unlock()
	if d == nil {
		return func() {}
	}
	return d.Once(eventType, fn)
}

// Off removes a handler previously registered with On or Once.
func (e *Engine) Off(eventType string, fn events.Handler) {
	e.mu.Lock()
	d := e.dispatcher
	e.mu.Unlock()
	if d != nil {
		d.Off(eventType, fn)
	}
}

// Subscribe opens a streaming channel subscription on the event bus, for
// consumers (e.g. a metrics exporter) that want every event rather than
// registering per-type callbacks.
func (e *Engine) Subscribe(buffer int) (events.Subscription, error) {
	e.mu.Lock()
	bus := e.bus
	e.mu.Unlock()
	if bus == nil {
		return nil, models.ErrNotRunning
	}
	return bus.Subscribe(buffer)
}

func facadeState(s scheduler.State) State {
	switch s {
	case scheduler.StateIdle:
		return StateIdle
	case scheduler.StateRunning:
		return StateRunning
	case scheduler.StatePaused:
		return StatePaused
	case scheduler.StateDone:
		return StateDone
	case scheduler.StateFailed:
		return StateFailed
	default:
		// Canceling/Finalizing are still "running" from a caller's
		// perspective: work is in flight, just winding down.
		return StateRunning
	}
}

func rssPercentOf(maxRSSMB int) float64 {
	if maxRSSMB <= 0 {
		return 0
	}
	return 0.90
}

func newCrawlID() string {
	return fmt.Sprintf("crawl-%d", time.Now().UnixNano())
}
