package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.etcd.io/bbolt"

	"docrag/internal/domain"
)

type storedEntry struct {
	Vector []float32         `json:"v"`
	Text   string            `json:"t"`
	Source string            `json:"s"`
	Extra  map[string]string `json:"m,omitempty"`
}

func encodeEntry(e domain.VectorEntry) ([]byte, error) {
	return json.Marshal(storedEntry{
		Vector: e.Vector,
		Text:   e.Text,
		Source: e.Metadata.Source,
		Extra:  e.Metadata.Extra,
	})
}

func decodeEntry(id string, data []byte) (domain.VectorEntry, error) {
	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.VectorEntry{}, err
	}
	return domain.VectorEntry{
		ID:       id,
		Vector:   stored.Vector,
		Text:     stored.Text,
		Metadata: domain.Metadata{Source: stored.Source, Extra: stored.Extra},
	}, nil
}

// Upsert adds or overwrites entries in one transaction.
func (s *BoltVectorStore) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dim int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		dim, err = s.put(tx, entries)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", domain.ErrVectorStore, err)
	}

	s.dimension = dim
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// DeleteBySource removes every entry tagged with sourceKey.
func (s *BoltVectorStore) DeleteBySource(ctx context.Context, sourceKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		removed, err = s.deleteSource(tx, sourceKey)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete %s: %w", domain.ErrVectorStore, sourceKey, err)
	}

	for _, id := range removed {
		delete(s.entries, id)
	}
	return len(removed), nil
}

// ReplaceSource swaps the entries of sourceKey for entries in one transaction,
// so readers never observe a half-written source.
func (s *BoltVectorStore) ReplaceSource(ctx context.Context, sourceKey string, entries []domain.VectorEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Metadata.Source != sourceKey {
			return 0, fmt.Errorf("%w: entry %s belongs to %q, not %q", domain.ErrInvalidInput, e.ID, e.Metadata.Source, sourceKey)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		removed []string
		dim     int
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		if removed, err = s.deleteSource(tx, sourceKey); err != nil {
			return err
		}
		dim, err = s.put(tx, entries)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: replace %s: %w", domain.ErrVectorStore, sourceKey, err)
	}

	for _, id := range removed {
		delete(s.entries, id)
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	s.dimension = dim
	return len(removed), nil
}

func (s *BoltVectorStore) put(tx *bbolt.Tx, entries []domain.VectorEntry) (int, error) {
	entryB, sourceB, metaB := s.buckets(tx)

	dim := s.dimension
	for _, e := range entries {
		if e.ID == "" || e.Metadata.Source == "" {
			return 0, fmt.Errorf("entry needs an id and a source")
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return 0, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(e.Vector))
		}

		// an overwritten id may have moved to another source
		if old := entryB.Get([]byte(e.ID)); old != nil {
			prev, err := decodeEntry(e.ID, old)
			if err != nil {
				return 0, err
			}
			if err := sourceB.Delete(sourceIndexKey(prev.Metadata.Source, e.ID)); err != nil {
				return 0, err
			}
		}

		data, err := encodeEntry(e)
		if err != nil {
			return 0, err
		}
		if err := entryB.Put([]byte(e.ID), data); err != nil {
			return 0, err
		}
		if err := sourceB.Put(sourceIndexKey(e.Metadata.Source, e.ID), nil); err != nil {
			return 0, err
		}
	}

	if dim != s.dimension {
		if err := writeDimension(metaB, dim); err != nil {
			return 0, err
		}
	}
	return dim, nil
}

func (s *BoltVectorStore) deleteSource(tx *bbolt.Tx, sourceKey string) ([]string, error) {
	entryB, sourceB, _ := s.buckets(tx)
	prefix := sourcePrefix(sourceKey)

	var keys [][]byte
	c := sourceB.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := string(k[len(prefix):])
		if err := entryB.Delete([]byte(id)); err != nil {
			return nil, err
		}
		if err := sourceB.Delete(k); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SimilaritySearch finds the k nearest entries to the query using cosine similarity.
func (s *BoltVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]domain.ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d", domain.ErrVectorStore, s.dimension, len(query))
	}

	all := make([]domain.VectorEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	return Rank(query, all, k), nil
}

// Count returns the number of entries in the collection.
func (s *BoltVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Sources returns the number of entries stored per source key.
func (s *BoltVectorStore) Sources(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range s.entries {
		out[e.Metadata.Source]++
	}
	return out, nil
}

// Rank scores every entry against query and returns the top k, highest score
// first. Equal scores are ordered by ID so results are deterministic.
func Rank(query []float32, entries []domain.VectorEntry, k int) []domain.ScoredEntry {
	scored := make([]domain.ScoredEntry, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, domain.ScoredEntry{
			Entry: e,
			Score: CosineSimilarity(query, e.Vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
