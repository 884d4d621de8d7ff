// Package fingerprint computes content-addressed identities for source files
// and for the chunks produced from them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"docrag/internal/domain"
)

// Of returns the fingerprint of raw file bytes.
func Of(data []byte) domain.Fingerprint {
	return domain.Fingerprint(hashBytes(data))
}

// File streams the file at path through the hash.
func File(path string) (domain.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return "", fmt.Errorf("%w: open %s: %w", domain.ErrIO, path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %w", domain.ErrIO, path, err)
	}
	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Chunk hashes a document's content together with its metadata, so the same
// text under a different source or chunking policy hashes differently.
func Chunk(doc domain.Document) string {
	parts := make([]string, 0, 2+2*len(doc.Metadata.Extra))
	parts = append(parts, doc.Content, "source="+doc.Metadata.Source)
	for _, k := range doc.Metadata.Keys() {
		parts = append(parts, k+"="+doc.Metadata.Extra[k])
	}
	return hashBytes([]byte(strings.Join(parts, "\x00")))
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
