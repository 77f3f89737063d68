package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cartographer/engine/models"
)

// Config controls where and how a crawl's archive is staged.
type Config struct {
	Generator string
	Owner     string
	Consumers []string
	SpecLevel int
}

var datasetNames = []string{"pages", "edges", "assets", "errors", "accessibility", "console", "styles"}

// Writer stages one crawl's datasets and binary media on disk, then seals
// the staging tree into a single .atls container on finalize.
//
// Grounded on the teacher's internal/resources/manager.go: per-dataset
// writes are serialized through a mutex rather than threaded through a
// checkpointLoop-style background goroutine, since the scheduler already
// serializes per-item processing onto a bounded worker pool and a second
// layer of channel buffering would only add latency without added safety.
// The rotation/flush mechanics datasetWriter implements are themselves the
// part borrowed wholesale from checkpointLoop's batching discipline.
type Writer struct {
	mu sync.Mutex

	stagingDir string
	outPath    string
	cfg        Config

	datasets map[string]*datasetWriter

	faviconsByOrigin map[string]string // origin -> media-relative path, for dedup

	seeds           []string
	primaryOrigin   string
	startedAt       time.Time
	statusCodeHist  map[string]int
	renderModeHist  map[string]int
	totalRenderMs   float64
	renderMsSamples int
	maxDepthReached int

	completionReason models.CompletionReason
	modesUsed        map[models.RenderMode]bool
	provenance       Provenance
}

// Init creates the staging directory tree for a fresh crawl.
func Init(outPath string, cfg Config) (*Writer, error) {
	stagingDir, err := os.MkdirTemp(filepath.Dir(outPath), ".atls-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	w := &Writer{
		stagingDir:       stagingDir,
		outPath:          outPath,
		cfg:              cfg,
		datasets:         map[string]*datasetWriter{},
		faviconsByOrigin: map[string]string{},
		statusCodeHist:   map[string]int{},
		renderModeHist:   map[string]int{},
		modesUsed:        map[models.RenderMode]bool{},
		startedAt:        time.Now(),
	}

	for _, name := range datasetNames {
		dw, err := newDatasetWriter(stagingDir, name)
		if err != nil {
			return nil, err
		}
		w.datasets[name] = dw
	}

	for _, dir := range []string{
		filepath.Join(stagingDir, "media", "screenshots", "desktop"),
		filepath.Join(stagingDir, "media", "screenshots", "mobile"),
		filepath.Join(stagingDir, "media", "favicons"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}

	return w, nil
}

// StagingDir returns the staging directory this writer is writing into, so
// a caller can point a checkpoint.Store at the same tree.
func (w *Writer) StagingDir() string { return w.stagingDir }

// SetSeeds records the crawl's seed URLs and primary origin for summary.json.
func (w *Writer) SetSeeds(seeds []string, primaryOrigin string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seeds = seeds
	w.primaryOrigin = primaryOrigin
}

func (w *Writer) recordCommon(renderMs float64, mode models.RenderMode, status int, depth int) {
	if status != 0 {
		w.statusCodeHist[fmt.Sprintf("%d", status)]++
	}
	if mode != "" {
		w.renderModeHist[string(mode)]++
		w.modesUsed[mode] = true
	}
	if renderMs > 0 {
		w.totalRenderMs += renderMs
		w.renderMsSamples++
	}
	if depth > w.maxDepthReached {
		w.maxDepthReached = depth
	}
}

// WritePage appends a PageRecord to the pages dataset.
func (w *Writer) WritePage(p models.PageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordCommon(0, p.RenderMode, p.StatusCode, p.Depth)
	return w.datasets["pages"].WriteRecord(p)
}

// WriteEdge appends an EdgeRecord to the edges dataset.
func (w *Writer) WriteEdge(e models.EdgeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["edges"].WriteRecord(e)
}

// WriteAsset appends an AssetRecord to the assets dataset.
func (w *Writer) WriteAsset(a models.AssetRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["assets"].WriteRecord(a)
}

// WriteError appends an ErrorRecord to the errors dataset.
func (w *Writer) WriteError(e models.ErrorRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["errors"].WriteRecord(e)
}

// WriteAccessibility appends an AccessibilityRecord to the accessibility dataset.
func (w *Writer) WriteAccessibility(a models.AccessibilityRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["accessibility"].WriteRecord(a)
}

// WriteConsole appends a ConsoleRecord to the console dataset (full mode only).
func (w *Writer) WriteConsole(c models.ConsoleRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["console"].WriteRecord(c)
}

// WriteStyles appends a ComputedTextNodeRecord to the styles dataset (full mode only).
func (w *Writer) WriteStyles(c models.ComputedTextNodeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.datasets["styles"].WriteRecord(c)
}

// FlushAndSync flushes every dataset's buffered writer to disk without
// rotating or closing streams, for periodic checkpoint durability.
func (w *Writer) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, name := range datasetNames {
		if err := w.datasets[name].Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", name, err)
		}
	}
	return nil
}

// GetPartPointers reports each dataset's current part index and in-progress
// byte offset, for inclusion in a checkpoint snapshot.
func (w *Writer) GetPartPointers() []models.PartPointer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.PartPointer, 0, len(datasetNames))
	for _, name := range datasetNames {
		dw := w.datasets[name]
		out = append(out, models.PartPointer{
			Dataset:    name,
			PartIndex:  dw.partIndex,
			ByteOffset: dw.uncompressed,
		})
	}
	return out
}

// SetCompletionReason records why the crawl stopped, for summary.json and
// the manifest.
func (w *Writer) SetCompletionReason(reason models.CompletionReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completionReason = reason
}
