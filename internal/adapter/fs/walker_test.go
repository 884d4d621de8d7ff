package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docrag/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkDirectoryWithPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "notes", "b.md"), "b")
	writeFile(t, filepath.Join(root, "notes", "c.bin"), "c")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref")

	w := NewWalker([]string{"**/*.txt", "**/*.md"}, []string{".git/**"})
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{filepath.Join(root, "a.txt"), filepath.Join(root, "notes", "b.md")}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %+v", len(want), files)
	}
	for i, f := range files {
		if f.Path != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], f.Path)
		}
	}
}

func TestWalkSingleFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doc.bin")
	writeFile(t, path, "The sky is blue.")

	// explicit files bypass include patterns
	w := NewWalker([]string{"**/*.txt"}, nil)
	files, err := w.Walk(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != path || files[0].Size != 16 {
		t.Fatalf("unexpected result %+v", files)
	}
}

func TestWalkMissingRoot(t *testing.T) {
	w := NewWalker(nil, nil)
	_, err := w.Walk(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
