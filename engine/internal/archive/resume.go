package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"cartographer/engine/models"
)

// Resume reopens an interrupted crawl's staging directory for continued
// writing. Each dataset's part numbering picks up right after the
// checkpoint's last part pointer — the parts already sealed are left
// untouched and counted towards the manifest's record counts, and a fresh
// part starts for new writes. There is no teacher analog for resuming a
// rotating zstd writer mid-stream; appending to an already-flushed-but-
// unclosed zstd frame is avoided entirely by always starting the next part
// rather than reopening the last one.
//
// Per-crawl stats that only finalize computes from accumulated state
// (status code / render mode histograms, average render time, max depth)
// are not reconstructed from the pre-interruption parts — summary.json
// for a resumed crawl reports only the post-resume portion of those. The
// record counts themselves are exact: Resume seeds them by decompressing
// and line-counting every part up to the checkpointed one.
func Resume(stagingDir, outPath string, cfg Config, pointers []models.PartPointer) (*Writer, error) {
	w := &Writer{
		stagingDir:       stagingDir,
		outPath:          outPath,
		cfg:              cfg,
		datasets:         map[string]*datasetWriter{},
		faviconsByOrigin: map[string]string{},
		startedAt:        time.Now(),
		statusCodeHist:   map[string]int{},
		renderModeHist:   map[string]int{},
		modesUsed:        map[models.RenderMode]bool{},
	}

	byDataset := make(map[string]models.PartPointer, len(pointers))
	for _, p := range pointers {
		byDataset[p.Dataset] = p
	}

	for _, name := range datasetNames {
		startIndex := 1
		var existingRecords int64
		if p, ok := byDataset[name]; ok && p.PartIndex > 0 {
			n, err := countRecordsThroughPart(filepath.Join(stagingDir, name), p.PartIndex)
			if err != nil {
				return nil, fmt.Errorf("resume: count %s records: %w", name, err)
			}
			existingRecords = n
			startIndex = p.PartIndex + 1
		}
		dw, err := newDatasetWriterResuming(stagingDir, name, startIndex, existingRecords)
		if err != nil {
			return nil, fmt.Errorf("resume: reopen %s: %w", name, err)
		}
		w.datasets[name] = dw
	}

	if err := w.rebuildFaviconIndex(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) rebuildFaviconIndex() error {
	dir := filepath.Join(w.stagingDir, "media", "favicons")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resume: list favicons: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		key := strings.TrimSuffix(name, filepath.Ext(name))
		w.faviconsByOrigin[key] = filepath.ToSlash(filepath.Join("media", "favicons", name))
	}
	return nil
}

func countRecordsThroughPart(dir string, lastPartIndex int) (int64, error) {
	var total int64
	for i := 1; i <= lastPartIndex; i++ {
		n, err := countRecordsInPart(filepath.Join(dir, fmt.Sprintf("part-%03d.jsonl.zst", i)))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// countRecordsInPart counts newline-delimited records in a zstd-compressed
// part file. A checkpoint always follows a flush, so every record up to
// the last one counted here was durably on disk; a read error past that
// point (the current, unclosed frame trailing off) is treated as "nothing
// more to count" rather than a hard failure.
func countRecordsInPart(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open zstd reader: %w", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var n int64
	for scanner.Scan() {
		n++
	}
	return n, nil
}
