package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/auracap/internal/types"
)

func TestArchiveRegistryWritesSettledCallsOnly(t *testing.T) {
	dir := t.TempDir()
	reg := NewArchiveRegistry(dir, 16, 1)

	reg.Observe(types.CapturedCall{ID: "p", OriginTab: "ABCDEF0123456789", State: types.CallPending})
	reg.Observe(types.CapturedCall{ID: "s", OriginTab: "ABCDEF0123456789", State: types.CallSuccess, RequestedAt: 1, RespondedAt: 2})

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, date, "tab_ABCDEF01", "calls.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open(%s) error = %v", path, err)
	}
	defer f.Close()

	var lines []types.CapturedCall
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var c types.CapturedCall
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("json.Unmarshal() error = %v", err)
		}
		lines = append(lines, c)
	}
	if len(lines) != 1 || lines[0].ID != "s" {
		t.Fatalf("archived = %+v; want only the settled call", lines)
	}
}

func TestJSONLWriterRejectsAfterClose(t *testing.T) {
	w := NewJSONLWriter(t.TempDir(), "tab_x", 1, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(types.CapturedCall{ID: "a"}); err == nil {
		t.Fatal("Write() after Close = nil; want error")
	}
}

func TestArchiveSegment(t *testing.T) {
	tests := map[string]string{
		"":               "tab_unknown",
		"B0D5A8E8C1F2":   "tab_B0D5A8E8",
		"ab/cd":          "tab_ab_cd",
		"  1234  ":       "tab_1234",
	}
	for in, want := range tests {
		if got := ArchiveSegment(in); got != want {
			t.Fatalf("ArchiveSegment(%q) = %q; want %q", in, got, want)
		}
	}
}
