package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cartographer/engine/internal/checkpoint"
	"cartographer/engine/internal/urlnorm"
	"cartographer/engine/models"
)

// Status is a point-in-time snapshot for the engine façade's status().
type Status struct {
	State           State
	PagesWritten    int64
	ErrorsWritten   int64
	InFlight        int64
	FrontierPending int
	MaxDepthSeen    int
}

// Scheduler owns the BFS frontier, the per-host round-robin poll against
// the rate limiter, and the bounded worker pool that runs the per-page
// pipeline (see pipeline.go's processItem).
type Scheduler struct {
	cfg  Config
	deps Dependencies

	state *stateBox

	frontier     *frontier
	visitedMu    sync.Mutex
	visited      map[string]bool
	seenParams   *urlnorm.SeenParams
	firePolicy   *checkpoint.FirePolicy
	crawlID      string
	primaryOrigin string

	pagesWritten int64
	errorsTotal  int64
	itemsTotal   int64
	inFlight     int64
	maxDepthSeen int64
	autoPaused   int32 // 1 while rssMonitor, not the caller, holds the pause

	completionReason models.CompletionReason
	completionMu     sync.Mutex

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	resumeCh chan struct{}

	done        chan struct{}
	runErr      error
	archivePath string
}

// New constructs a Scheduler. Seeds are admitted to the frontier on Start,
// not here, so construction never fails on a bad seed URL.
func New(cfg Config, deps Dependencies, crawlID string) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if deps.Events == nil {
		deps.Events = noopSink{}
	}
	return &Scheduler{
		cfg:        cfg,
		deps:       deps,
		state:      newStateBox(StateIdle),
		frontier:   newFrontier(),
		visited:    make(map[string]bool),
		seenParams: urlnorm.NewSeenParams(),
		firePolicy: checkpoint.NewFirePolicy(cfg.CheckpointEvery, cfg.CheckpointEach),
		crawlID:    crawlID,
		sem:        make(chan struct{}, cfg.Concurrency),
		resumeCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Status reports the scheduler's current lifecycle state and counters.
func (s *Scheduler) Status() Status {
	return Status{
		State:           s.state.get(),
		PagesWritten:    atomic.LoadInt64(&s.pagesWritten),
		ErrorsWritten:   atomic.LoadInt64(&s.errorsTotal),
		InFlight:        atomic.LoadInt64(&s.inFlight),
		FrontierPending: len(s.frontier.snapshot()),
		MaxDepthSeen:    int(atomic.LoadInt64(&s.maxDepthSeen)),
	}
}

// Start admits the seeds and begins the dispatch loop in the background.
// It returns once the loop has been launched, not once the crawl finishes;
// callers wait on Wait() for completion.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.state.transition(StateRunning); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if len(s.cfg.Seeds) > 0 {
		s.primaryOrigin, _ = urlnorm.Normalize(s.cfg.Seeds[0])
	}
	for _, seed := range s.cfg.Seeds {
		s.admit(seed, 0, "")
	}

	s.emit(EventCrawlStarted, map[string]any{"seeds": s.cfg.Seeds, "crawlId": s.crawlID})

	if s.deps.RSSSampler != nil && s.cfg.MaxRSSPercent > 0 {
		go s.rssMonitor()
	}

	go s.run()
	return nil
}

// ApplySnapshot seeds the scheduler from a checkpoint before the first
// Start call: visited keys are marked so they're never re-enqueued, and
// the checkpointed frontier is restored verbatim.
func (s *Scheduler) ApplySnapshot(snap *checkpoint.Snapshot) {
	s.frontier.markEnqueued(snap.RebuildEnqueued())
	s.visitedMu.Lock()
	for _, k := range snap.Visited {
		s.visited[k] = true
	}
	s.visitedMu.Unlock()
	s.frontier.restore(snap.Frontier)
	atomic.StoreInt64(&s.pagesWritten, int64(snap.State.VisitedCount))
}

// Pause transitions running -> paused; the dispatch loop stops admitting
// new work but in-flight tasks continue to completion.
func (s *Scheduler) Pause() error {
	return s.state.transition(StatePaused)
}

// Resume continues a paused crawl.
func (s *Scheduler) Resume() error {
	if err := s.state.transition(StateRunning); err != nil {
		return err
	}
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Cancel requests a graceful shutdown: stop admitting new work, drain
// in-flight tasks up to cfg.ShutdownTimeout, then finalize.
func (s *Scheduler) Cancel() error {
	from := s.state.get()
	if from != StateRunning && from != StatePaused {
		return models.ErrInvalidState
	}
	s.setCompletionReason(models.CompletionManual)
	if err := s.state.transition(StateCanceling); err != nil {
		return err
	}
	s.emit(EventCrawlShutdown, map[string]any{"reason": "manual"})
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until the crawl reaches a terminal state and returns the
// error that failed the run, or nil; ArchivePath then reports the sealed
// archive path (from Finalize).
func (s *Scheduler) Wait() error {
	<-s.done
	return s.runErr
}

// ArchivePath returns the sealed .atls path once Wait has returned. Empty
// until the crawl has finalized.
func (s *Scheduler) ArchivePath() string {
	return s.archivePath
}

func (s *Scheduler) setCompletionReason(r models.CompletionReason) {
	s.completionMu.Lock()
	defer s.completionMu.Unlock()
	if s.completionReason == models.CompletionNone {
		s.completionReason = r
	}
}

// run is the main dispatch loop: per-host round-robin against the rate
// limiter, handing admitted items to the bounded worker pool. It holds no
// in-flight work itself.
func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

dispatch:
	for {
		switch s.state.get() {
		case StateCanceling:
			break dispatch
		case StatePaused:
			select {
			case <-s.resumeCh:
				continue dispatch
			case <-s.ctx.Done():
				break dispatch
			case <-time.After(100 * time.Millisecond):
				continue dispatch
			}
		}

		if s.cfg.MaxPages > 0 && atomic.LoadInt64(&s.pagesWritten) >= int64(s.cfg.MaxPages) {
			s.setCompletionReason(models.CompletionCapped)
			s.state.transition(StateCanceling)
			continue
		}

		if s.frontier.isEmpty() && atomic.LoadInt64(&s.inFlight) == 0 {
			s.setCompletionReason(models.CompletionFinished)
			break dispatch
		}

		select {
		case <-ticker.C:
			s.emit(EventCrawlHeartbeat, map[string]any{"pages": atomic.LoadInt64(&s.pagesWritten), "inFlight": atomic.LoadInt64(&s.inFlight)})
		default:
		}

		host, ok := s.frontier.nextHostWithWork()
		if !ok {
			select {
			case <-s.ctx.Done():
				break dispatch
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if !s.deps.Limiter.TryConsume(host) {
			s.emit(EventCrawlBackpressure, map[string]any{"host": host})
			continue
		}

		item, ok := s.frontier.pop(host)
		if !ok {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			break dispatch
		}

		atomic.AddInt64(&s.inFlight, 1)
		s.wg.Add(1)
		go func(item models.FrontierItem) {
			defer func() {
				<-s.sem
				atomic.AddInt64(&s.inFlight, -1)
				s.wg.Done()
			}()
			s.processItem(s.ctx, item)
		}(item)
	}

	s.drainAndFinalize()
}

// drainAndFinalize waits for in-flight tasks to finish before sealing the
// archive. During a cancel, in-flight tasks get cfg.ShutdownTimeout to
// finish on their own; past that, the context is canceled so fetch/render
// calls watching ctx.Done() abort promptly. Either way this blocks until
// every worker goroutine has actually returned — Finalize must never run
// concurrently with a goroutine still writing to the archive.
func (s *Scheduler) drainAndFinalize() {
	if s.cfg.ShutdownTimeout > 0 && s.state.get() == StateCanceling {
		waitCh := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitCh)
		}()
		select {
		case <-waitCh:
		case <-time.After(s.cfg.ShutdownTimeout):
			s.cancel()
			<-waitCh
		}
	} else {
		s.wg.Wait()
	}

	if err := s.state.transition(StateFinalizing); err != nil {
		s.runErr = err
		s.state.set(StateFailed)
		return
	}

	_ = s.deps.Writer.FlushAndSync()
	s.deps.Writer.SetCompletionReason(s.completionReasonOrDefault())

	path, err := s.deps.Writer.Finalize()
	if err != nil {
		s.runErr = err
		s.state.set(StateFailed)
		return
	}
	s.archivePath = path

	s.emit(EventCrawlFinished, map[string]any{
		"pages":   atomic.LoadInt64(&s.pagesWritten),
		"errors":  atomic.LoadInt64(&s.errorsTotal),
		"reason":  string(s.completionReasonOrDefault()),
		"archive": path,
	})

	s.state.transition(StateDone)
}

func (s *Scheduler) completionReasonOrDefault() models.CompletionReason {
	s.completionMu.Lock()
	defer s.completionMu.Unlock()
	if s.completionReason == models.CompletionNone {
		return models.CompletionFinished
	}
	return s.completionReason
}

// rssMonitor auto-pauses the crawl when memory pressure crosses the
// configured threshold and resumes it once headroom returns, independent
// of any user-issued Pause/Unpause.
func (s *Scheduler) rssMonitor() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		pct := s.deps.RSSSampler()
		if pct >= s.cfg.MaxRSSPercent && s.state.get() == StateRunning {
			if s.Pause() == nil {
				atomic.StoreInt32(&s.autoPaused, 1)
			}
		} else if pct < s.cfg.MaxRSSPercent && s.state.get() == StatePaused && atomic.CompareAndSwapInt32(&s.autoPaused, 1, 0) {
			_ = s.Resume()
		}
	}
}

// admit normalizes and applies the param policy to rawURL, then pushes it
// onto the frontier if it is new, within depth, and (unless following
// external links) same-origin with the primary seed.
func (s *Scheduler) admit(rawURL string, depth int, discoveredFrom string) bool {
	if s.cfg.MaxDepth > 0 && depth > s.cfg.MaxDepth {
		return false
	}
	processed, ok := urlnorm.ApplyParamPolicy(rawURL, s.cfg.ParamPolicy, s.cfg.ParamBlockList, s.seenParams)
	if !ok {
		return false
	}
	normalized, ok := urlnorm.Normalize(processed)
	if !ok {
		return false
	}
	if !s.cfg.FollowExternal && s.primaryOrigin != "" && !urlnorm.IsSameOrigin(normalized, s.primaryOrigin) {
		return false
	}
	key := urlnorm.KeyOf(normalized)
	pushed := s.frontier.push(models.FrontierItem{URL: normalized, Depth: depth, DiscoveredFrom: discoveredFrom}, key)
	if pushed && int64(depth) > atomic.LoadInt64(&s.maxDepthSeen) {
		atomic.StoreInt64(&s.maxDepthSeen, int64(depth))
	}
	return pushed
}

func (s *Scheduler) markVisited(key string) {
	s.visitedMu.Lock()
	s.visited[key] = true
	s.visitedMu.Unlock()
}

func (s *Scheduler) visitedKeys() []string {
	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()
	out := make([]string, 0, len(s.visited))
	for k := range s.visited {
		out = append(out, k)
	}
	return out
}

// maybeCheckpoint fires the checkpoint store on the fire policy's cadence,
// flushing the archive writer first so the snapshot the checkpoint
// captures is always consistent with what is durably on disk.
func (s *Scheduler) maybeCheckpoint() {
	if !s.firePolicy.OnPageWritten(time.Now()) {
		return
	}
	if err := s.deps.Writer.FlushAndSync(); err != nil {
		return
	}
	cp := models.Checkpoint{
		CrawlID:       s.crawlID,
		VisitedCount:  int(atomic.LoadInt64(&s.pagesWritten)),
		EnqueuedCount: len(s.visitedKeys()) + len(s.frontier.snapshot()),
		QueueDepth:    len(s.frontier.snapshot()),
		PartPointers:  s.deps.Writer.GetPartPointers(),
		Timestamp:     time.Now(),
	}
	if err := s.deps.Checkpoints.Save(cp, s.visitedKeys(), s.frontier.snapshot()); err != nil {
		return
	}
	s.firePolicy.Reset(time.Now())
	s.emit(EventCheckpointSaved, map[string]any{"pages": cp.VisitedCount})
}
