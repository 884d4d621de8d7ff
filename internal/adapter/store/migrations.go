package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"docrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion  = []byte("schema_version")
	keyDimension      = []byte("dimension")
	keyEmbeddingModel = []byte("embedding_model")
)

// SchemaInfo describes how a collection was built.
type SchemaInfo struct {
	Version        int    `json:"version"`
	Dimension      int    `json:"dimension"`
	EmbeddingModel string `json:"embedding_model"`
}

func ensureSchema(meta *bbolt.Bucket) error {
	info, err := readSchema(meta)
	if err != nil {
		return err
	}

	switch {
	case info.Version == 0:
		data, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		return meta.Put(keySchemaVersion, data)
	case info.Version > CurrentSchemaVersion:
		return fmt.Errorf("collection created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}
	return nil
}

func readSchema(meta *bbolt.Bucket) (SchemaInfo, error) {
	var info SchemaInfo
	if data := meta.Get(keySchemaVersion); data != nil {
		if err := json.Unmarshal(data, &info.Version); err != nil {
			return info, fmt.Errorf("corrupt schema version: %w", err)
		}
	}
	if data := meta.Get(keyDimension); data != nil {
		dim, err := strconv.Atoi(string(data))
		if err != nil {
			return info, fmt.Errorf("corrupt dimension: %w", err)
		}
		info.Dimension = dim
	}
	info.EmbeddingModel = string(meta.Get(keyEmbeddingModel))
	return info, nil
}

func writeDimension(meta *bbolt.Bucket, dim int) error {
	return meta.Put(keyDimension, []byte(strconv.Itoa(dim)))
}

// SchemaInfo reads the collection metadata.
func (s *BoltVectorStore) SchemaInfo() (SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, _, meta := s.buckets(tx)
		var err error
		info, err = readSchema(meta)
		return err
	})
	return info, err
}

// EnsureEmbedding records which model fills the collection. Vectors from
// different models are not comparable, so a non-empty collection built with
// another model or dimension is rejected.
func (s *BoltVectorStore) EnsureEmbedding(model string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, _, meta := s.buckets(tx)
		info, err := readSchema(meta)
		if err != nil {
			return err
		}

		if len(s.entries) > 0 {
			if info.EmbeddingModel != "" && info.EmbeddingModel != model {
				return fmt.Errorf("collection was built with model %q, not %q; rebuild with index --reset", info.EmbeddingModel, model)
			}
			if info.Dimension != 0 && dimension != 0 && info.Dimension != dimension {
				return fmt.Errorf("collection has dimension %d, embedder produces %d; rebuild with index --reset", info.Dimension, dimension)
			}
		}

		if err := meta.Put(keyEmbeddingModel, []byte(model)); err != nil {
			return err
		}
		if len(s.entries) == 0 && dimension != 0 {
			s.dimension = dimension
			return writeDimension(meta, dimension)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorStore, err)
	}
	return nil
}

// Clear removes every entry of the collection and forgets its embedding model.
func (s *BoltVectorStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.collection)
		for _, name := range [][]byte{bucketEntries, bucketSources} {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := root.CreateBucket(name); err != nil {
				return err
			}
		}

		meta := root.Bucket(bucketMeta)
		for _, k := range [][]byte{keyDimension, keyEmbeddingModel} {
			if err := meta.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: clear: %w", domain.ErrVectorStore, err)
	}

	s.entries = make(map[string]domain.VectorEntry)
	s.dimension = 0
	return nil
}
