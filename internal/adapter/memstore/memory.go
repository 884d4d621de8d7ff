package memstore

import (
	"context"
	"fmt"
	"sync"

	"docrag/internal/adapter/store"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// MemoryStore is a non-persistent vector store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]domain.VectorEntry
	bySource map[string]map[string]struct{}
}

var (
	_ port.VectorStore    = (*MemoryStore)(nil)
	_ port.SourceReplacer = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]domain.VectorEntry),
		bySource: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" || e.Metadata.Source == "" {
			return fmt.Errorf("%w: entry needs an id and a source", domain.ErrVectorStore)
		}
	}
	for _, e := range entries {
		s.put(e)
	}
	return nil
}

func (s *MemoryStore) DeleteBySource(ctx context.Context, sourceKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSource(sourceKey), nil
}

func (s *MemoryStore) ReplaceSource(ctx context.Context, sourceKey string, entries []domain.VectorEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.Metadata.Source != sourceKey {
			return 0, fmt.Errorf("%w: entry %s belongs to %q, not %q", domain.ErrInvalidInput, e.ID, e.Metadata.Source, sourceKey)
		}
	}
	n := s.deleteSource(sourceKey)
	for _, e := range entries {
		s.put(e)
	}
	return n, nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]domain.ScoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 || k <= 0 {
		return nil, nil
	}
	all := make([]domain.VectorEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	return store.Rank(query, all, k), nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Sources returns the number of entries stored per source key.
func (s *MemoryStore) Sources(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.bySource))
	for src, ids := range s.bySource {
		out[src] = len(ids)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) put(e domain.VectorEntry) {
	if old, ok := s.entries[e.ID]; ok {
		s.unlink(old.Metadata.Source, e.ID)
	}
	s.entries[e.ID] = e
	ids, ok := s.bySource[e.Metadata.Source]
	if !ok {
		ids = make(map[string]struct{})
		s.bySource[e.Metadata.Source] = ids
	}
	ids[e.ID] = struct{}{}
}

func (s *MemoryStore) deleteSource(sourceKey string) int {
	ids := s.bySource[sourceKey]
	for id := range ids {
		delete(s.entries, id)
	}
	delete(s.bySource, sourceKey)
	return len(ids)
}

func (s *MemoryStore) unlink(sourceKey, id string) {
	ids := s.bySource[sourceKey]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.bySource, sourceKey)
	}
}
