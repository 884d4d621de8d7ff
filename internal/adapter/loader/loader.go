// Package loader reads text files and tags every chunk with its sourceKey.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"unicode/utf8"

	"docrag/internal/adapter/fingerprint"
	"docrag/internal/domain"
	"docrag/internal/port"
)

const (
	MetaPath     = "path"
	MetaChunk    = "chunk"
	MetaChunking = "chunking"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type TextLoader struct {
	chunker port.Chunker
}

func New(chunker port.Chunker) *TextLoader {
	return &TextLoader{chunker: chunker}
}

// Load reads path, checks it still matches fp and splits it into Documents
// whose source is path + "_" + fp.
func (l *TextLoader) Load(ctx context.Context, path string, fp domain.Fingerprint) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrIO, path, err)
	}

	if got := fingerprint.Of(data); got != fp {
		return nil, fmt.Errorf("%w: %s changed while loading (fingerprint %s, expected %s)", domain.ErrIO, path, got, fp)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", domain.ErrFormat, path)
	}

	source := domain.SourceKey(path, fp)
	policy := l.chunker.Policy()
	chunks := l.chunker.Split(string(data))

	docs := make([]domain.Document, 0, len(chunks))
	for i, text := range chunks {
		docs = append(docs, domain.Document{
			Content: text,
			Metadata: domain.Metadata{
				Source: source,
				Extra: map[string]string{
					MetaPath:     path,
					MetaChunk:    strconv.Itoa(i),
					MetaChunking: policy,
				},
			},
		})
	}
	return docs, nil
}

// LoadFile fingerprints and loads path in one step.
func (l *TextLoader) LoadFile(ctx context.Context, path string) ([]domain.Document, error) {
	fp, err := fingerprint.File(path)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, path, fp)
}
