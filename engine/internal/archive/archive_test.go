package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/models"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "crawl.atls")
	w, err := Init(out, Config{Generator: "cartographer-test", Owner: "test-suite", SpecLevel: 1})
	require.NoError(t, err)
	return w, out
}

func TestWritePageThenFinalizeProducesSealedArchive(t *testing.T) {
	w, out := newTestWriter(t)
	w.SetSeeds([]string{"https://example.com/"}, "https://example.com")

	require.NoError(t, w.WritePage(models.PageRecord{
		URLKey: "abc", URL: "https://example.com/", FinalURL: "https://example.com/",
		StatusCode: 200, RenderMode: models.RenderModeRaw, NavEndReason: models.NavEndFetch,
		FetchedAt: time.Now(), RenderedAt: time.Now(),
	}))
	require.NoError(t, w.WriteEdge(models.EdgeRecord{SourceURL: "https://example.com/", TargetURL: "https://example.com/about", SelectorHint: "#a"}))
	w.SetProvenance(Provenance{SpecLevel: 1, Robots: models.RobotsNote{RespectsRobotsTxt: true}})
	w.SetCompletionReason(models.CompletionFinished)

	archivePath, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, out, archivePath)

	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

// TestFinalizeManifestIntegrityCoversSummary guards the historical ordering
// bug: the manifest's integrity map must hash summary.json as it exists on
// disk at manifest-build time, which only holds if summary.json was written
// before the tree walk that builds the integrity map.
func TestFinalizeManifestIntegrityCoversSummary(t *testing.T) {
	w, out := newTestWriter(t)
	require.NoError(t, w.WritePage(models.PageRecord{URLKey: "abc", URL: "https://example.com/", StatusCode: 200, RenderMode: models.RenderModeRaw}))
	w.SetProvenance(Provenance{SpecLevel: 1})
	w.SetCompletionReason(models.CompletionFinished)

	_, err := w.Finalize()
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)

	var summaryBytes []byte
	var manifest models.Manifest
	for _, file := range zr.File {
		rc, err := file.Open()
		require.NoError(t, err)
		switch file.Name {
		case "summary.json":
			summaryBytes, err = io.ReadAll(rc)
			require.NoError(t, err)
		case "manifest.json":
			require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
		}
		rc.Close()
	}
	require.NotEmpty(t, summaryBytes)

	sum := sha256.Sum256(summaryBytes)
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, manifest.Integrity.Files["summary.json"], "manifest must hash the summary as finally written")
}

func TestManifestRecordCountsMatchWrittenRecords(t *testing.T) {
	w, out := newTestWriter(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WritePage(models.PageRecord{URLKey: "k", StatusCode: 200, RenderMode: models.RenderModeRaw}))
	}
	w.SetProvenance(Provenance{SpecLevel: 1})
	w.SetCompletionReason(models.CompletionFinished)
	_, err := w.Finalize()
	require.NoError(t, err)

	manifest := readManifestFromZip(t, out)
	assert.Equal(t, 3, manifest.Datasets["pages"].RecordCount)
	assert.Equal(t, 1, manifest.Datasets["pages"].PartCount)
}

func TestGetPartPointersReflectsInProgressWrites(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.WriteEdge(models.EdgeRecord{SourceURL: "a", TargetURL: "b"}))
	pointers := w.GetPartPointers()
	require.Len(t, pointers, len(datasetNames))
	found := false
	for _, p := range pointers {
		if p.Dataset == "edges" {
			found = true
			assert.Equal(t, 1, p.PartIndex)
			assert.Greater(t, p.ByteOffset, int64(0))
		}
	}
	assert.True(t, found)
}

func TestFaviconDedupedPerOrigin(t *testing.T) {
	w, _ := newTestWriter(t)
	// Pre-seed the dedup map directly: exercising the real HTTP path needs a
	// live server, covered by media_test.go; this asserts the cache hit.
	w.faviconsByOrigin["originkey123"] = "media/favicons/existing.ico"
	path, err := w.WriteFavicon(context.Background(), "originkey123", "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, "media/favicons/existing.ico", path)
}

func readManifestFromZip(t *testing.T, archivePath string) models.Manifest {
	t.Helper()
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)
	for _, file := range zr.File {
		if file.Name != "manifest.json" {
			continue
		}
		rc, err := file.Open()
		require.NoError(t, err)
		defer rc.Close()
		var m models.Manifest
		require.NoError(t, json.NewDecoder(rc).Decode(&m))
		return m
	}
	t.Fatal("manifest.json not found in sealed archive")
	return models.Manifest{}
}
