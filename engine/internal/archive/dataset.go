// Package archive implements the staging-directory archive writer (C7):
// rotating zstd-compressed JSONL part files per dataset, binary media
// persistence with per-origin favicon dedup, and the strictly-ordered
// finalize sequence that seals the staging tree into the final .atls
// container.
//
// The rotation/flush discipline is grounded on the teacher's
// internal/resources/manager.go checkpointLoop (periodic + threshold
// flush); writes themselves are serialized by the Writer's mutex rather
// than a background goroutine. Nothing in the pack streams Zstandard or seals a
// ZIP-family container, so klauspost/compress/zstd and archive/zip are
// named, not grounded, per spec.md §4.7's literal on-disk layout.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const partRotateThreshold = 150 << 20 // ~150MB uncompressed, per spec.md §4.7

// datasetWriter owns one dataset's sequence of rotating part files.
type datasetWriter struct {
	dir          string
	name         string
	partIndex    int
	uncompressed int64 // bytes written into the current part, pre-compression
	recordCount  int64

	file *os.File
	buf  *bufio.Writer
	enc  *zstd.Encoder
}

func newDatasetWriter(stagingDir, name string) (*datasetWriter, error) {
	return newDatasetWriterResuming(stagingDir, name, 1, 0)
}

// newDatasetWriterResuming reopens a dataset at startIndex (the part after
// the checkpointed one) with recordCount seeded from the parts already on
// disk, so a resumed crawl's manifest record counts include work done
// before the interruption.
func newDatasetWriterResuming(stagingDir, name string, startIndex int, recordCount int64) (*datasetWriter, error) {
	dir := filepath.Join(stagingDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir %s: %w", name, err)
	}
	w := &datasetWriter{dir: dir, name: name, partIndex: startIndex, recordCount: recordCount}
	if err := w.openPart(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *datasetWriter) partPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("part-%03d.jsonl.zst", w.partIndex))
}

func (w *datasetWriter) openPart() error {
	f, err := os.OpenFile(w.partPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open part %s: %w", w.partPath(), err)
	}
	buf := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(buf)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	w.file = f
	w.buf = buf
	w.enc = enc
	w.uncompressed = 0
	return nil
}

// WriteRecord marshals v as one JSON line and appends it, rotating to a new
// part first if the current one has crossed the uncompressed threshold.
func (w *datasetWriter) WriteRecord(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", w.name, err)
	}
	line = append(line, '\n')

	if w.uncompressed > 0 && w.uncompressed+int64(len(line)) > partRotateThreshold {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.enc.Write(line)
	if err != nil {
		return fmt.Errorf("write %s record: %w", w.name, err)
	}
	w.uncompressed += int64(n)
	w.recordCount++
	return nil
}

func (w *datasetWriter) rotate() error {
	if err := w.closePart(); err != nil {
		return err
	}
	w.partIndex++
	return w.openPart()
}

func (w *datasetWriter) closePart() error {
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("close zstd encoder for %s: %w", w.name, err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s buffer: %w", w.name, err)
	}
	return w.file.Close()
}

// Sync flushes buffered data to disk without rotating, for flushAndSync().
func (w *datasetWriter) Sync() error {
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Flush(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *datasetWriter) partNames() []string {
	names := make([]string, w.partIndex)
	for i := range names {
		names[i] = fmt.Sprintf("part-%03d.jsonl.zst", i+1)
	}
	return names
}
