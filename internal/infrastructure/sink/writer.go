package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"steamharvest/internal/domain"
	"steamharvest/internal/infrastructure/ops"
	"steamharvest/internal/ports"
)

// Writer buffers canonical records and persists them in checkpointed
// batches: a batch is mirrored if a mirror is configured, appended to the
// JSONL output store, and only then checkpointed. A failing batch keeps
// the buffer intact and the checkpoint unmoved; the caller treats the
// error as fatal and the next run reconciles from the output store.
type Writer struct {
	mu        sync.Mutex
	path      string
	idsPath   string
	chunkSize int
	mirror    ports.RecordMirror
	metrics   *ops.Metrics
	logger    *slog.Logger
	buf       []domain.CanonicalRecord
	done      map[int64]bool
	flushes   int
}

var _ ports.RecordWriter = (*Writer)(nil)

// Open prepares the output store and reconciles the checkpoint sidecar
// against it. The output store is authoritative: a trailing partial line
// from an interrupted append is truncated away, and the sidecar is rebuilt
// whenever it disagrees with the ids actually persisted.
func Open(path string, chunkSize int, mirror ports.RecordMirror, metrics *ops.Metrics, logger *slog.Logger) (*Writer, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}

	w := &Writer{
		path:      path,
		idsPath:   idsPathFor(path),
		chunkSize: chunkSize,
		mirror:    mirror,
		metrics:   metrics,
		logger:    logger,
	}

	done, err := w.reconcile()
	if err != nil {
		return nil, err
	}
	w.done = done

	return w, nil
}

func (w *Writer) reconcile() (map[int64]bool, error) {
	persisted, validEnd, err := scanOutputIDs(w.path)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(w.path); err == nil && info.Size() > validEnd {
		w.logger.Warn("truncating partial record at end of output store",
			"path", w.path, "dropped_bytes", info.Size()-validEnd)
		if err := os.Truncate(w.path, validEnd); err != nil {
			return nil, fmt.Errorf("truncate output %s: %w", w.path, err)
		}
	}

	checkpointed, err := readIDsSidecar(w.idsPath)
	if err != nil {
		return nil, err
	}

	if !sameIDSet(checkpointed, persisted) {
		w.logger.Warn("checkpoint out of sync with output store, rebuilding",
			"checkpointed", len(checkpointed), "persisted", len(persisted))
		if err := rewriteIDsSidecar(w.idsPath, persisted); err != nil {
			return nil, err
		}
	}

	return persisted, nil
}

// Submit buffers one record and flushes automatically once the buffer
// reaches the chunk size. Records already persisted are dropped.
func (w *Writer) Submit(ctx context.Context, record domain.CanonicalRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done[record.AppID] {
		return nil
	}

	w.buf = append(w.buf, record)
	w.pushGaugesLocked()
	if len(w.buf) < w.chunkSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush persists whatever is buffered, if anything.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Checkpointed returns a copy of the persisted id set.
func (w *Writer) Checkpointed() map[int64]bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[int64]bool, len(w.done))
	for id := range w.done {
		out[id] = true
	}
	return out
}

// Buffered reports how many records await the next flush.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	batch := w.buf

	// The mirror goes first: a batch that reaches the output store is
	// checkpointed by reconciliation and never offered to the mirror again,
	// while a mirrored batch that misses the output store is refetched and
	// re-inserted idempotently.
	if w.mirror != nil {
		if err := w.mirror.MirrorBatch(ctx, batch); err != nil {
			return fmt.Errorf("mirror batch: %w", err)
		}
	}

	if err := appendRecords(w.path, batch); err != nil {
		return fmt.Errorf("append batch: %w", err)
	}

	ids := make([]int64, len(batch))
	for i, rec := range batch {
		ids[i] = rec.AppID
	}
	if err := appendIDs(w.idsPath, ids); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	for _, id := range ids {
		w.done[id] = true
	}
	w.buf = w.buf[:0]
	w.flushes++
	w.pushGaugesLocked()
	w.logger.Debug("batch flushed", "records", len(batch), "total_persisted", len(w.done))

	return nil
}

func (w *Writer) pushGaugesLocked() {
	if w.metrics == nil {
		return
	}
	w.metrics.SetSink(len(w.buf), w.flushes, len(w.done))
}

func appendRecords(path string, batch []domain.CanonicalRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("encode record %d: %w", rec.AppID, err)
		}
		if _, err := bw.Write(line); err != nil {
			_ = f.Close()
			return fmt.Errorf("write output %s: %w", path, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = f.Close()
			return fmt.Errorf("write output %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush output %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync output %s: %w", path, err)
	}

	return f.Close()
}
