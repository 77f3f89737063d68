package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cartographer/engine/models"
)

// Provenance is everything finalize needs about the crawl beyond the raw
// dataset records, set once the scheduler knows how the crawl concluded.
type Provenance struct {
	Robots    models.RobotsNote
	SpecLevel int
	Notes     []string
}

// SetProvenance records the manifest's capability/robots/notes fields.
func (w *Writer) SetProvenance(p Provenance) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.provenance = p
}

// Finalize performs the strictly-ordered sealing sequence: flush part
// streams, write summary.json, build the manifest from a tree walk (which
// must see the summary already on disk), write the manifest, then zip the
// staging tree into the final .atls container at outPath.
//
// This order is load-bearing: writing the manifest before the summary
// would make the manifest's own integrity hash depend on a file that does
// not yet reflect final counts, corrupting downstream validation. See
// TestFinalizeManifestIntegrityCoversSummary in archive_test.go.
func (w *Writer) Finalize() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, name := range datasetNames {
		if err := w.datasets[name].closePart(); err != nil {
			return "", fmt.Errorf("finalize: close %s: %w", name, err)
		}
	}

	completedAt := time.Now()
	avgRenderMs := 0.0
	if w.renderMsSamples > 0 {
		avgRenderMs = w.totalRenderMs / float64(w.renderMsSamples)
	}
	summary := models.Summary{
		Seeds:               w.seeds,
		PrimaryOrigin:       w.primaryOrigin,
		Domain:              originHost(w.primaryOrigin),
		SpecLevel:           w.provenance.SpecLevel,
		CompletionReason:    w.completionReason,
		TotalPages:          int(w.datasets["pages"].recordCount),
		TotalEdges:          int(w.datasets["edges"].recordCount),
		TotalAssets:         int(w.datasets["assets"].recordCount),
		TotalErrors:         int(w.datasets["errors"].recordCount),
		StatusCodeHistogram: w.statusCodeHist,
		RenderModeHistogram: w.renderModeHist,
		AvgRenderMs:         avgRenderMs,
		MaxDepthReached:     w.maxDepthReached,
		StartedAt:           w.startedAt,
		CompletedAt:         completedAt,
		DurationMs:          completedAt.Sub(w.startedAt).Milliseconds(),
	}
	if err := writeJSONFile(filepath.Join(w.stagingDir, "summary.json"), summary); err != nil {
		return "", fmt.Errorf("finalize: write summary: %w", err)
	}

	integrity, err := hashStagingTree(w.stagingDir)
	if err != nil {
		return "", fmt.Errorf("finalize: hash tree: %w", err)
	}

	parts := map[string][]string{}
	datasets := map[string]models.DatasetStats{}
	for _, name := range datasetNames {
		dw := w.datasets[name]
		names := dw.partNames()
		parts[name] = names
		var bytes int64
		for _, n := range names {
			bytes += integrity.sizes[filepath.ToSlash(filepath.Join(name, n))]
		}
		datasets[name] = models.DatasetStats{
			PartCount:   len(names),
			RecordCount: int(dw.recordCount),
			Bytes:       bytes,
		}
	}

	modes := make([]models.RenderMode, 0, len(w.modesUsed))
	for m := range w.modesUsed {
		modes = append(modes, m)
	}

	// pages/edges/assets/errors/accessibility are attempted at every spec
	// level; console/styles only exist once a full-mode page has run.
	dataSetsPresent := []string{"pages", "edges", "assets", "errors", "accessibility"}
	if w.modesUsed[models.RenderModeFull] {
		dataSetsPresent = append(dataSetsPresent, "console", "styles")
	}

	manifest := models.Manifest{
		AtlasVersion: "1.0",
		Owner:        models.ManifestOwner{Name: w.cfg.Owner},
		Consumers:    w.cfg.Consumers,
		Hashing:      models.HashingInfo{Algorithm: "sha256", URLKeyAlgo: "sha1"},
		Parts:        parts,
		Schemas:      datasetSchemas(),
		Datasets:     datasets,
		Capabilities: models.Capabilities{
			RenderModes: []models.RenderMode{models.RenderModeRaw, models.RenderModePrerender, models.RenderModeFull},
			ModesUsed:   modes,
			SpecLevel:   w.provenance.SpecLevel,
			DataSets:    dataSetsPresent,
			Robots:      w.provenance.Robots,
		},
		Notes:            w.provenance.Notes,
		Integrity:        models.IntegrityInfo{Files: integrity.hashes},
		CreatedAt:        completedAt,
		Generator:        w.cfg.Generator,
		Incomplete:       w.completionReason != models.CompletionFinished,
		CompletionReason: w.completionReason,
	}
	if err := writeJSONFile(filepath.Join(w.stagingDir, "manifest.json"), manifest); err != nil {
		return "", fmt.Errorf("finalize: write manifest: %w", err)
	}

	if err := sealZip(w.stagingDir, w.outPath); err != nil {
		return "", fmt.Errorf("finalize: seal: %w", err)
	}

	if err := os.RemoveAll(w.stagingDir); err != nil {
		return "", fmt.Errorf("finalize: clean staging dir: %w", err)
	}

	return w.outPath, nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

type treeIntegrity struct {
	hashes map[string]string
	sizes  map[string]int64
}

// hashStagingTree walks every file already written to the staging tree
// (summary.json included, manifest.json not yet written) and records its
// SHA-256 and on-disk size keyed by its slash-separated relative path.
func hashStagingTree(root string) (treeIntegrity, error) {
	out := treeIntegrity{hashes: map[string]string{}, sizes: map[string]int64{}}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		out.hashes[rel] = hex.EncodeToString(h.Sum(nil))
		out.sizes[rel] = info.Size()
		return nil
	})
	return out, err
}

func sealZip(stagingDir, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func datasetSchemas() map[string]string {
	out := make(map[string]string, len(datasetNames))
	for _, name := range datasetNames {
		out[name] = "cartographer/" + name + "@1"
	}
	return out
}

func originHost(origin string) string {
	s := strings.TrimPrefix(origin, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, ":/"); i >= 0 {
		s = s[:i]
	}
	return s
}
