package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// DBFile is the bolt file created inside the persist directory.
const DBFile = "vectors.db"

var (
	bucketEntries = []byte("entries")
	bucketSources = []byte("sources")
	bucketMeta    = []byte("meta")
)

// DB is one bolt file holding any number of collections, one per
// namespace.
type DB struct {
	db   *bbolt.DB
	path string
}

// OpenDB opens the bolt file under persistDir, creating it if needed.
// The file lock is exclusive, so a second process fails after one second.
func OpenDB(persistDir string) (*DB, error) {
	if err := os.MkdirAll(persistDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create persist directory: %w", domain.ErrVectorStore, err)
	}

	path := filepath.Join(persistDir, DBFile)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s is locked by another process", domain.ErrVectorStore, path)
		}
		return nil, fmt.Errorf("%w: failed to open bolt db: %w", domain.ErrVectorStore, err)
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the bolt file path.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Collection opens one collection of the file, creating it if needed.
// Closing the returned store leaves the file open.
func (d *DB) Collection(name string) (*BoltVectorStore, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name is empty", domain.ErrInvalidInput)
	}

	s := &BoltVectorStore{
		db:         d.db,
		collection: []byte(name),
		path:       d.path,
		entries:    make(map[string]domain.VectorEntry),
	}

	err := d.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.collection)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		for _, b := range [][]byte{bucketEntries, bucketSources, bucketMeta} {
			if _, err := root.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s/%s: %w", name, b, err)
			}
		}
		return ensureSchema(root.Bucket(bucketMeta))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrVectorStore, err)
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("%w: failed to load vectors: %w", domain.ErrVectorStore, err)
	}
	return s, nil
}

// BoltVectorStore keeps one collection in a bolt file. Each collection is a
// top-level bucket holding nested entries, sources and meta buckets.
// Search is brute force over an in-memory copy of the entries.
type BoltVectorStore struct {
	db         *bbolt.DB
	collection []byte
	path       string
	ownsDB     bool

	mu        sync.RWMutex
	entries   map[string]domain.VectorEntry
	dimension int
}

var (
	_ port.VectorStore    = (*BoltVectorStore)(nil)
	_ port.SourceReplacer = (*BoltVectorStore)(nil)
)

// Open opens a single collection stored under persistDir. The store owns
// the file and closes it on Close.
func Open(persistDir, collection string) (*BoltVectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is empty", domain.ErrInvalidInput)
	}
	db, err := OpenDB(persistDir)
	if err != nil {
		return nil, err
	}
	s, err := db.Collection(collection)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Path returns the bolt file path.
func (s *BoltVectorStore) Path() string {
	return s.path
}

func (s *BoltVectorStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *BoltVectorStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.collection)

		info, err := readSchema(root.Bucket(bucketMeta))
		if err != nil {
			return err
		}
		s.dimension = info.Dimension

		return root.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(string(k), v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			s.entries[entry.ID] = entry
			return nil
		})
	})
}

func (s *BoltVectorStore) buckets(tx *bbolt.Tx) (entries, sources, meta *bbolt.Bucket) {
	root := tx.Bucket(s.collection)
	return root.Bucket(bucketEntries), root.Bucket(bucketSources), root.Bucket(bucketMeta)
}

// sourceIndexKey orders the sources bucket so one cursor seek finds every
// entry of a source.
func sourceIndexKey(sourceKey, id string) []byte {
	return []byte(sourceKey + "\x00" + id)
}

func sourcePrefix(sourceKey string) []byte {
	return []byte(sourceKey + "\x00")
}
