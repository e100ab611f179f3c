package storage

import (
	"log/slog"
	"sync"

	"github.com/dgnsrekt/auracap/internal/types"
)

// ArchiveRegistry keeps one JSONLWriter per tab and archives settled calls.
type ArchiveRegistry struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

// NewArchiveRegistry creates a registry rooted at baseDir.
func NewArchiveRegistry(baseDir string, bufferSize, maxSizeMB int) *ArchiveRegistry {
	return &ArchiveRegistry{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Observe is a store Observer: settled calls are appended to the tab's archive.
func (r *ArchiveRegistry) Observe(call types.CapturedCall) {
	if !call.State.Terminal() {
		return
	}
	if err := r.GetWriter(call.OriginTab).Write(call); err != nil {
		slog.Debug("archive write skipped", "call_id", call.ID, "error", err)
	}
}

// GetWriter returns (or creates) the writer for a tab.
func (r *ArchiveRegistry) GetWriter(tabID string) *JSONLWriter {
	segment := ArchiveSegment(tabID)

	r.mu.RLock()
	if w, ok := r.writers[segment]; ok {
		r.mu.RUnlock()
		return w
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[segment]; ok {
		return w
	}

	w := NewJSONLWriter(r.baseDir, segment, r.bufferSize, r.maxSizeMB)
	r.writers[segment] = w
	slog.Info("created archive writer", "segment", segment, "tab_id", tabID)
	return w
}

// Close closes all managed writers.
func (r *ArchiveRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for segment, w := range r.writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close archive writer", "segment", segment, "error", err)
			lastErr = err
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return lastErr
}
