package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/internal/fetcher"
	"cartographer/engine/internal/renderer"
	"cartographer/engine/internal/robots"
	"cartographer/engine/models"
)

// fakeRobots allows every URL except those listed in disallow.
type fakeRobots struct {
	disallow map[string]bool
}

func (f *fakeRobots) ShouldFetch(rawURL string) robots.Result {
	if f.disallow[rawURL] {
		return robots.Result{Allow: false, MatchedRule: "disallow"}
	}
	return robots.Result{Allow: true, MatchedRule: "allow"}
}
func (f *fakeRobots) OverrideUsed() bool { return false }

// fakeLimiter always admits immediately.
type fakeLimiter struct{}

func (fakeLimiter) TryConsume(string) bool { return true }

// fakeFetcher serves canned HTML per URL.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, &fetcher.FetchError{URL: rawURL, Kind: fetcher.ConnUnknown, Err: assert.AnError}
	}
	return &fetcher.Result{
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "text/html",
		Headers:     map[string]string{"content-type": "text/html"},
		Body:        []byte(html),
		RawHTMLHash: "deadbeef",
	}, nil
}

// fakeRenderer echoes the raw body back as the DOM (raw mode).
type fakeRenderer struct{}

func (fakeRenderer) RenderPage(_ context.Context, _ string, raw renderer.RawFetch) (*renderer.RenderResult, error) {
	return &renderer.RenderResult{
		ModeUsed:     models.RenderModeRaw,
		NavEndReason: models.NavEndFetch,
		DOM:          string(raw.Body),
		DOMHash:      "domhash",
	}, nil
}

// fakeWriter records every call in memory.
type fakeWriter struct {
	mu     sync.Mutex
	pages  []models.PageRecord
	edges  []models.EdgeRecord
	errors []models.ErrorRecord
	finalizedReason models.CompletionReason
	finalized       bool
}

func (w *fakeWriter) WritePage(p models.PageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pages = append(w.pages, p)
	return nil
}
func (w *fakeWriter) WriteEdge(e models.EdgeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edges = append(w.edges, e)
	return nil
}
func (w *fakeWriter) WriteAsset(models.AssetRecord) error { return nil }
func (w *fakeWriter) WriteError(e models.ErrorRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, e)
	return nil
}
func (w *fakeWriter) WriteAccessibility(models.AccessibilityRecord) error   { return nil }
func (w *fakeWriter) WriteConsole(models.ConsoleRecord) error               { return nil }
func (w *fakeWriter) WriteStyles(models.ComputedTextNodeRecord) error       { return nil }
func (w *fakeWriter) WriteScreenshot(string, string, []byte) (string, error) { return "", nil }
func (w *fakeWriter) WriteFavicon(context.Context, string, string) (string, error) {
	return "", nil
}
func (w *fakeWriter) FlushAndSync() error                    { return nil }
func (w *fakeWriter) GetPartPointers() []models.PartPointer  { return nil }
func (w *fakeWriter) SetCompletionReason(r models.CompletionReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalizedReason = r
}
func (w *fakeWriter) Finalize() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return "/tmp/fake.atls", nil
}

func (w *fakeWriter) pageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pages)
}

// fakeCheckpoints records every Save call.
type fakeCheckpoints struct {
	mu    sync.Mutex
	saves int
}

func (c *fakeCheckpoints) Save(models.Checkpoint, []string, []models.FrontierItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	return nil
}

func newTestScheduler(t *testing.T, pages map[string]string, cfg Config) (*Scheduler, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	sched := New(cfg, Dependencies{
		Robots:      &fakeRobots{disallow: map[string]bool{}},
		Limiter:     fakeLimiter{},
		Fetcher:     &fakeFetcher{pages: pages},
		Renderer:    fakeRenderer{},
		Writer:      writer,
		Checkpoints: &fakeCheckpoints{},
	}, "crawl-test")
	return sched, writer
}

func TestSchedulerSinglePageNoLinksFinishes(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 2}
	sched, writer := newTestScheduler(t, map[string]string{
		"https://example.com/": "<html><head><title>Hi</title></head><body>hello</body></html>",
	}, cfg)

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Wait())

	assert.Equal(t, StateDone, sched.Status().State)
	assert.Equal(t, 1, writer.pageCount())
	assert.Equal(t, models.CompletionFinished, writer.finalizedReason)
	assert.True(t, writer.finalized)
	assert.Equal(t, "/tmp/fake.atls", sched.ArchivePath())
}

func TestSchedulerFollowsInternalLinks(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 2}
	sched, writer := newTestScheduler(t, map[string]string{
		"https://example.com/":      `<html><body><a href="/b">b</a></body></html>`,
		"https://example.com/b":     `<html><body>leaf</body></html>`,
	}, cfg)

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Wait())

	assert.Equal(t, 2, writer.pageCount())
}

func TestSchedulerMaxDepthStopsDiscovery(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 2, MaxDepth: 0}
	sched, writer := newTestScheduler(t, map[string]string{
		"https://example.com/":  `<html><body><a href="/b">b</a></body></html>`,
		"https://example.com/b": `<html><body><a href="/c">c</a></body></html>`,
		"https://example.com/c": `<html><body>leaf</body></html>`,
	}, cfg)
	sched.cfg.MaxDepth = 1

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Wait())

	// depth 0 (seed) and depth 1 (/b) are admitted; /c at depth 2 is not.
	assert.Equal(t, 2, writer.pageCount())
}

func TestSchedulerRobotsBlockedWritesErrorNotPage(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 1}
	writer := &fakeWriter{}
	sched := New(cfg, Dependencies{
		Robots:      &fakeRobots{disallow: map[string]bool{"https://example.com/": true}},
		Limiter:     fakeLimiter{},
		Fetcher:     &fakeFetcher{pages: map[string]string{"https://example.com/": "<html></html>"}},
		Renderer:    fakeRenderer{},
		Writer:      writer,
		Checkpoints: &fakeCheckpoints{},
	}, "crawl-robots")

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Wait())

	assert.Equal(t, 0, writer.pageCount())
	require.Len(t, writer.errors, 1)
	assert.Equal(t, "ROBOTS_BLOCKED", writer.errors[0].Code)
}

func TestSchedulerMaxPagesCapsAndReportsCapped(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 1, MaxPages: 1}
	sched, writer := newTestScheduler(t, map[string]string{
		"https://example.com/":  `<html><body><a href="/b">b</a></body></html>`,
		"https://example.com/b": `<html><body>leaf</body></html>`,
	}, cfg)

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Wait())

	assert.LessOrEqual(t, writer.pageCount(), 1)
	assert.Equal(t, models.CompletionCapped, writer.finalizedReason)
}

func TestSchedulerPauseThenResumeCompletes(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 1}
	sched, writer := newTestScheduler(t, map[string]string{
		"https://example.com/": "<html><body>hi</body></html>",
	}, cfg)

	require.NoError(t, sched.Start(context.Background()))
	_ = sched.Pause()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sched.Resume())
	require.NoError(t, sched.Wait())

	assert.Equal(t, 1, writer.pageCount())
}

func TestSchedulerCancelDrainsAndReachesDone(t *testing.T) {
	cfg := Config{Seeds: []string{"https://example.com/"}, Concurrency: 1, ShutdownTimeout: 2 * time.Second}
	sched, _ := newTestScheduler(t, map[string]string{
		"https://example.com/": "<html><body>hi</body></html>",
	}, cfg)

	require.NoError(t, sched.Start(context.Background()))
	_ = sched.Cancel()
	require.NoError(t, sched.Wait())

	assert.Equal(t, StateDone, sched.Status().State)
}

func TestStateTransitionsRejectInvalidEdges(t *testing.T) {
	b := newStateBox(StateIdle)
	assert.Error(t, b.transition(StatePaused))
	assert.NoError(t, b.transition(StateRunning))
	assert.NoError(t, b.transition(StatePaused))
	assert.Error(t, b.transition(StateDone))
}
