package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/fingerprint"
	"docrag/internal/domain"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTagsSource(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.txt", []byte("The sky is blue."))
	fp := fingerprint.Of([]byte("The sky is blue."))

	docs, err := New(chunker.NewWholeChunker()).Load(context.Background(), path, fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	doc := docs[0]
	if doc.Content != "The sky is blue." {
		t.Errorf("unexpected content %q", doc.Content)
	}
	if want := path + "_" + string(fp); doc.Metadata.Source != want {
		t.Errorf("expected source %q, got %q", want, doc.Metadata.Source)
	}
	if doc.Metadata.Extra[MetaPath] != path {
		t.Errorf("expected path %q, got %q", path, doc.Metadata.Extra[MetaPath])
	}
	if doc.Metadata.Extra[MetaChunking] != chunker.StrategyWhole {
		t.Errorf("expected chunking policy recorded, got %q", doc.Metadata.Extra[MetaChunking])
	}
}

func TestLoadSplitsWithPolicy(t *testing.T) {
	content := []byte("Line1\nLine2\nLine3\nLine4\nLine5\nLine6")
	path := writeFile(t, t.TempDir(), "lines.txt", content)

	l := New(chunker.NewLineChunker(2, 0, analyzer.NewTokenizer()))
	docs, err := l.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(docs))
	}
	for i, doc := range docs {
		if doc.Metadata.Source != docs[0].Metadata.Source {
			t.Errorf("chunk %d has a different source", i)
		}
	}
	if docs[2].Metadata.Extra[MetaChunk] != "2" {
		t.Errorf("expected chunk ordinal 2, got %q", docs[2].Metadata.Extra[MetaChunk])
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	l := New(chunker.NewWholeChunker())
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := l.Load(ctx, filepath.Join(dir, "nope.txt"), "x")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("binary", func(t *testing.T) {
		data := []byte{0xff, 0xfe, 0x00, 0x81}
		path := writeFile(t, dir, "blob.bin", data)
		_, err := l.Load(ctx, path, fingerprint.Of(data))
		if !errors.Is(err, domain.ErrFormat) {
			t.Errorf("expected ErrFormat, got %v", err)
		}
	})

	t.Run("changed", func(t *testing.T) {
		path := writeFile(t, dir, "moving.txt", []byte("after"))
		_, err := l.Load(ctx, path, fingerprint.Of([]byte("before")))
		if !errors.Is(err, domain.ErrIO) {
			t.Errorf("expected ErrIO, got %v", err)
		}
	})
}

func TestLoadStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	path := writeFile(t, t.TempDir(), "bom.txt", data)

	docs, err := New(chunker.NewWholeChunker()).Load(context.Background(), path, fingerprint.Of(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs[0].Content != "hello" {
		t.Errorf("expected BOM stripped, got %q", docs[0].Content)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.txt", nil)

	docs, err := New(chunker.NewWholeChunker()).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no documents for empty file, got %d", len(docs))
	}
}
