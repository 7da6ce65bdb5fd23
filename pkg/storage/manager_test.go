package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"twdl/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	manager, err := NewManager(filepath.Join(base, "images"), filepath.Join(base, "videos"), base)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager, base
}

func TestNewManagerCreatesDirectories(t *testing.T) {
	_, base := newTestManager(t)

	for _, dir := range []string{"images", "videos"} {
		if info, err := os.Stat(filepath.Join(base, dir)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
}

func TestDirForRouting(t *testing.T) {
	manager, base := newTestManager(t)

	tests := []struct {
		mediaType models.MediaType
		expected  string
	}{
		{models.MediaTypePhoto, filepath.Join(base, "images")},
		{models.MediaTypeVideoThumbnail, filepath.Join(base, "images")},
		{models.MediaTypeVideo, filepath.Join(base, "videos")},
		{models.MediaTypeAnimatedGIF, filepath.Join(base, "videos")},
		{models.MediaType("mystery"), base},
	}

	for _, test := range tests {
		if got := manager.DirFor(test.mediaType); got != test.expected {
			t.Errorf("DirFor(%s) = %s, want %s", test.mediaType, got, test.expected)
		}
	}
}

func TestTargetPath(t *testing.T) {
	manager, base := newTestManager(t)

	got := manager.TargetPath("1234567890", 2, models.MediaTypeVideo, ".mp4")
	expected := filepath.Join(base, "videos", "1234567890_2.mp4")
	if got != expected {
		t.Errorf("TargetPath = %s, want %s", got, expected)
	}
}

func TestIsComplete(t *testing.T) {
	manager, base := newTestManager(t)

	missing := filepath.Join(base, "images", "missing.jpg")
	if manager.IsComplete(missing) {
		t.Error("expected missing file to be incomplete")
	}

	// Zero-byte file counts as absent
	empty := filepath.Join(base, "images", "empty.jpg")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}
	if manager.IsComplete(empty) {
		t.Error("expected zero-byte file to be incomplete")
	}

	full := filepath.Join(base, "images", "full.jpg")
	if err := os.WriteFile(full, []byte("data"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if !manager.IsComplete(full) {
		t.Error("expected non-empty file to be complete")
	}
}

func TestSaveStream(t *testing.T) {
	manager, base := newTestManager(t)

	data := []byte("media payload")
	target := filepath.Join(base, "images", "99_0.jpg")

	written, err := manager.SaveStream(bytes.NewReader(data), target)
	if err != nil {
		t.Fatalf("SaveStream failed: %v", err)
	}
	if written != int64(len(data)) {
		t.Errorf("expected %d bytes written, got %d", len(data), written)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(content, data) {
		t.Error("saved content does not match input")
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Join(base, "images"))
	if err != nil {
		t.Fatalf("Failed to read directory: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestSaveStreamFailureCleansUp(t *testing.T) {
	manager, base := newTestManager(t)

	target := filepath.Join(base, "images", "fail_0.jpg")
	if _, err := manager.SaveStream(&failingReader{}, target); err == nil {
		t.Fatal("expected SaveStream to fail")
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target should not exist after failed save")
	}

	entries, _ := os.ReadDir(filepath.Join(base, "images"))
	if len(entries) != 0 {
		t.Errorf("expected empty directory after failure, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "manifest.json")

	if err := WriteFileAtomic(target, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != `{"ok":true}` {
		t.Errorf("unexpected content: %s", content)
	}

	// Overwrite goes through the same path
	if err := WriteFileAtomic(target, []byte(`{"ok":false}`)); err != nil {
		t.Fatalf("WriteFileAtomic overwrite failed: %v", err)
	}
	content, _ = os.ReadFile(target)
	if string(content) != `{"ok":false}` {
		t.Errorf("unexpected content after overwrite: %s", content)
	}
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, os.ErrDeadlineExceeded
}
