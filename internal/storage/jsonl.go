package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/auracap/internal/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

// JSONLWriter appends settled calls to date-organised JSONL files:
// baseDir/<date>/<segment>/calls.jsonl, rotated by lumberjack.
type JSONLWriter struct {
	baseDir   string
	segment   string
	maxSizeMB int
	writeCh   chan types.CapturedCall
	done      chan struct{}
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter starts an async writer for one archive segment.
func NewJSONLWriter(baseDir, segment string, bufferSize, maxSizeMB int) *JSONLWriter {
	w := &JSONLWriter{
		baseDir:   baseDir,
		segment:   segment,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan types.CapturedCall, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a call without blocking; a full buffer drops the record.
func (w *JSONLWriter) Write(call types.CapturedCall) error {
	select {
	case <-w.done:
		return fmt.Errorf("archive writer %s is closed", w.segment)
	default:
	}
	select {
	case w.writeCh <- call:
		return nil
	default:
		slog.Warn("archive buffer full, dropping call", "segment", w.segment, "call_id", call.ID)
		return fmt.Errorf("archive buffer full")
	}
}

// Close stops the loop, flushes what is queued and closes the file.
func (w *JSONLWriter) Close() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case call := <-w.writeCh:
			w.writeRecord(call)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *JSONLWriter) drain() {
	for {
		select {
		case call := <-w.writeCh:
			w.writeRecord(call)
		default:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(call types.CapturedCall) {
	data, err := json.Marshal(call)
	if err != nil {
		slog.Error("failed to marshal archived call", "error", err, "call_id", call.ID)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("failed to open archive file", "error", err, "segment", w.segment)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write archived call", "error", err, "segment", w.segment)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, w.segment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	filename := filepath.Join(dir, "calls.jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   true,
	}
	w.currentDate = date
	slog.Info("opened archive file", "file", filename, "segment", w.segment)
	return nil
}
