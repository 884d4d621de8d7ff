package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/config"
	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/ledger"
	"docrag/internal/adapter/loader"
	"docrag/internal/adapter/memstore"
	"docrag/internal/adapter/store"
	"docrag/internal/domain"
	"docrag/internal/port"
)

const testNamespace = "my_local_namespace"

// countingEmbedder records how many texts reach the provider.
type countingEmbedder struct {
	*embedding.HashEmbedder
	texts int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.texts += len(texts)
	return e.HashEmbedder.Embed(ctx, texts)
}

// flakyStore fails writes while fail is set.
type flakyStore struct {
	*memstore.MemoryStore
	fail bool
}

func (s *flakyStore) ReplaceSource(ctx context.Context, key string, entries []domain.VectorEntry) (int, error) {
	if s.fail {
		return 0, errors.New("disk full")
	}
	return s.MemoryStore.ReplaceSource(ctx, key, entries)
}

type harness struct {
	dir      string
	ledger   *ledger.SQLiteLedger
	store    *flakyStore
	embedder *countingEmbedder
	loader   *loader.TextLoader
	uc       *IndexUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	l, err := ledger.Open(ctx, filepath.Join(dir, "index_log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	tok := analyzer.NewTokenizer()
	h := &harness{
		dir:      dir,
		ledger:   l,
		store:    &flakyStore{MemoryStore: memstore.NewMemoryStore()},
		embedder: &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(128, tok)},
		loader:   loader.New(chunker.NewWholeChunker()),
	}
	h.uc = NewIndexUseCase(h.embedder, h.store, h.ledger, nil)
	return h
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) load(t *testing.T, paths ...string) []domain.Document {
	t.Helper()
	var docs []domain.Document
	for _, p := range paths {
		d, err := h.loader.LoadFile(context.Background(), p)
		require.NoError(t, err)
		docs = append(docs, d...)
	}
	return docs
}

func (h *harness) index(t *testing.T, docs []domain.Document) *domain.IndexResult {
	t.Helper()
	res, err := h.uc.Index(context.Background(), docs, IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.NoError(t, err)
	return res
}

func (h *harness) records(t *testing.T) map[string]domain.LedgerRecord {
	t.Helper()
	recs, err := h.ledger.Records(context.Background(), testNamespace)
	require.NoError(t, err)
	out := make(map[string]domain.LedgerRecord, len(recs))
	for _, r := range recs {
		out[r.SourceKey] = r
	}
	return out
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestIndexIsIdempotent(t *testing.T) {
	h := newHarness(t)
	docs := h.load(t, h.write(t, "a.txt", "alpha content"))

	first := h.index(t, docs)
	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 0, first.Skipped)
	assert.Equal(t, 1, h.embedder.texts)

	second := h.index(t, docs)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 1, h.embedder.texts, "unchanged source must not be re-embedded")
	assert.Equal(t, 1, h.count(t))
}

func TestIndexDedupAddsOnlyNewSources(t *testing.T) {
	h := newHarness(t)
	a := h.write(t, "a.txt", "alpha content")
	b := h.write(t, "b.txt", "beta content")

	h.index(t, h.load(t, a))
	res := h.index(t, h.load(t, a, b))

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 2, h.embedder.texts)
	assert.Len(t, h.records(t), 2)
	assert.Equal(t, 2, h.count(t))
}

func TestIndexRemovesStaleSources(t *testing.T) {
	h := newHarness(t)
	a := h.write(t, "a.txt", "alpha content")
	b := h.write(t, "b.txt", "beta content")
	aDocs := h.load(t, a)

	h.index(t, h.load(t, a, b))
	res := h.index(t, h.load(t, b))

	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Deleted)

	recs := h.records(t)
	assert.NotContains(t, recs, aDocs[0].Metadata.Source)
	assert.Len(t, recs, 1)

	sources, err := h.store.Sources(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, sources, aDocs[0].Metadata.Source)
	assert.Equal(t, 1, h.count(t))
}

func TestIndexEditedFileReplacesOldVersion(t *testing.T) {
	h := newHarness(t)
	path := h.write(t, "a.txt", "first version")
	old := h.load(t, path)
	h.index(t, old)

	h.write(t, "a.txt", "second version")
	res := h.index(t, h.load(t, path))

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Deleted)
	assert.NotContains(t, h.records(t), old[0].Metadata.Source)
	assert.Equal(t, 1, h.count(t))
}

func TestIndexEmbedderFailureLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	docs := h.load(t, h.write(t, "a.txt", "alpha content"))

	h.embedder.err = errors.New("quota exceeded")
	_, err := h.uc.Index(context.Background(), docs, IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.ErrorIs(t, err, domain.ErrEmbeddingProvider)
	assert.Empty(t, h.records(t))
	assert.Equal(t, 0, h.count(t))

	h.embedder.err = nil
	res := h.index(t, docs)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, h.count(t))
}

func TestIndexAtomicStoreFailureRestoresLedger(t *testing.T) {
	h := newHarness(t)
	docs := h.load(t, h.write(t, "a.txt", "alpha content"))
	key := docs[0].Metadata.Source

	h.store.fail = true
	_, err := h.uc.Index(context.Background(), docs, IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.ErrorIs(t, err, domain.ErrVectorStore)
	assert.NotContains(t, h.records(t), key, "a new key must not stay in the ledger")
	assert.Equal(t, 0, h.count(t))

	h.store.fail = false
	res := h.index(t, docs)
	assert.Equal(t, 1, res.Added)
	assert.False(t, h.records(t)[key].Pending())
	assert.Equal(t, 1, h.count(t))
}

func TestIndexAtomicStoreFailureKeepsPreviousRecord(t *testing.T) {
	h := newHarness(t)
	path := h.write(t, "a.txt", "line one\nline two\nline three\n")
	old := h.load(t, path)
	h.index(t, old)
	key := old[0].Metadata.Source
	before := h.records(t)[key]

	// same key, new hashes
	h.loader = loader.New(chunker.NewLineChunker(2, 0, analyzer.NewTokenizer()))
	h.store.fail = true
	_, err := h.uc.Index(context.Background(), h.load(t, path), IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.ErrorIs(t, err, domain.ErrVectorStore)

	after := h.records(t)[key]
	assert.Equal(t, before.ChunkHashes, after.ChunkHashes)
	assert.False(t, after.Pending())
	assert.Equal(t, 1, h.count(t), "the old entry is still stored")

	// the store and the ledger still agree, so the old batch is a no-op
	h.store.fail = false
	h.loader = loader.New(chunker.NewWholeChunker())
	res := h.index(t, old)
	assert.Equal(t, 1, res.Skipped)
}

// partialStore has no atomic replace and fails upserts while fail is set,
// after the delete already ran.
type partialStore struct {
	*memstore.MemoryStore
	fail bool
}

func (s *partialStore) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Upsert(ctx, entries)
}

func plainStore(s *partialStore) port.VectorStore {
	var plain struct{ port.VectorStore }
	plain.VectorStore = s
	return plain
}

func TestIndexNonAtomicStoreFailureLeavesPendingRecord(t *testing.T) {
	h := newHarness(t)
	st := &partialStore{MemoryStore: memstore.NewMemoryStore()}
	uc := NewIndexUseCase(h.embedder, plainStore(st), h.ledger, nil)
	docs := h.load(t, h.write(t, "a.txt", "alpha content"))
	key := docs[0].Metadata.Source
	opts := IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull}

	st.fail = true
	_, err := uc.Index(context.Background(), docs, opts)
	require.ErrorIs(t, err, domain.ErrVectorStore)

	rec, ok := h.records(t)[key]
	require.True(t, ok)
	assert.True(t, rec.Pending())

	// the pending key is redone, not skipped
	st.fail = false
	res, err := uc.Index(context.Background(), docs, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 0, res.Skipped)
	assert.False(t, h.records(t)[key].Pending())
	n, _ := st.Count(context.Background())
	assert.Equal(t, 1, n)
}

func TestIndexPendingRecordOfRemovedSourceIsDeleted(t *testing.T) {
	h := newHarness(t)
	st := &partialStore{MemoryStore: memstore.NewMemoryStore()}
	uc := NewIndexUseCase(h.embedder, plainStore(st), h.ledger, nil)
	docs := h.load(t, h.write(t, "a.txt", "alpha content"))
	opts := IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull}

	st.fail = true
	_, err := uc.Index(context.Background(), docs, opts)
	require.Error(t, err)
	require.Len(t, h.records(t), 1)

	st.fail = false
	res, err := uc.Index(context.Background(), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)
	assert.Empty(t, h.records(t))
}

func TestIndexNamespacesShareOneStoreFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()

	db, err := store.OpenDB(filepath.Join(h.dir, "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	open := func(ns string) (*store.BoltVectorStore, *IndexUseCase) {
		st, err := db.Collection(cfg.Store.CollectionFor(ns))
		require.NoError(t, err)
		return st, NewIndexUseCase(h.embedder, st, h.ledger, nil)
	}
	st1, uc1 := open("ns1")
	st2, uc2 := open("ns2")
	run := func(uc *IndexUseCase, ns string, docs []domain.Document) *domain.IndexResult {
		res, err := uc.Index(ctx, docs, IndexOptions{Namespace: ns, Cleanup: CleanupFull})
		require.NoError(t, err)
		return res
	}
	count := func(st *store.BoltVectorStore) int {
		n, err := st.Count(ctx)
		require.NoError(t, err)
		return n
	}

	docs := h.load(t, h.write(t, "a.txt", "alpha content"))
	run(uc1, "ns1", docs)
	run(uc2, "ns2", docs)
	require.Equal(t, 1, count(st1))
	require.Equal(t, 1, count(st2))

	// emptying ns1 deletes its copy of the shared source key only
	res := run(uc1, "ns1", nil)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, count(st1))
	assert.Equal(t, 1, count(st2))

	again := run(uc2, "ns2", docs)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 1, count(st2))

	hits, err := st2.SimilaritySearch(ctx, mustEmbed(t, h, "alpha content"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha content", hits[0].Entry.Text)

	// clearing ns2 for a reset leaves ns1 able to rebuild
	require.NoError(t, st2.Clear())
	run(uc1, "ns1", docs)
	assert.Equal(t, 1, count(st1))
	assert.Equal(t, 0, count(st2))
}

func mustEmbed(t *testing.T, h *harness, text string) []float32 {
	t.Helper()
	vec, err := h.embedder.EmbedQuery(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestIndexChunkingPolicyChangeForcesReembed(t *testing.T) {
	h := newHarness(t)
	path := h.write(t, "a.txt", "line one\nline two\nline three\n")

	h.index(t, h.load(t, path))
	before := h.embedder.texts

	h.loader = loader.New(chunker.NewLineChunker(2, 0, analyzer.NewTokenizer()))
	docs := h.load(t, path)
	res := h.index(t, docs)

	assert.Equal(t, len(docs), res.Added)
	assert.Equal(t, 1, res.Deleted, "the whole-file entry is replaced")
	assert.Equal(t, before+len(docs), h.embedder.texts)
	assert.Equal(t, len(docs), h.count(t))
}

func TestIndexRejectsUnknownCleanupMode(t *testing.T) {
	h := newHarness(t)
	docs := h.load(t, h.write(t, "a.txt", "alpha"))

	_, err := h.uc.Index(context.Background(), docs, IndexOptions{Namespace: testNamespace, Cleanup: "incremental"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, h.embedder.texts)
	assert.Empty(t, h.records(t))
}

func TestIndexRejectsDocumentWithoutSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.uc.Index(context.Background(), []domain.Document{{Content: "orphan"}}, IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndexEmptyBatchIsNotAnError(t *testing.T) {
	h := newHarness(t)
	res := h.index(t, nil)
	assert.Equal(t, domain.IndexResult{}, *res)
}

func TestIndexReportsProgress(t *testing.T) {
	h := newHarness(t)
	docs := h.load(t, h.write(t, "a.txt", "alpha"), h.write(t, "b.txt", "beta"))

	var calls [][2]int
	_, err := h.uc.Index(context.Background(), docs, IndexOptions{
		Namespace: testNamespace,
		Cleanup:   CleanupFull,
		Progress:  func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestIndexFallsBackToDeleteAndUpsert(t *testing.T) {
	h := newHarness(t)
	// hide ReplaceSource behind the plain port
	var plain struct{ port.VectorStore }
	plain.VectorStore = h.store.MemoryStore
	uc := NewIndexUseCase(h.embedder, plain, h.ledger, nil)

	path := h.write(t, "a.txt", "line one\nline two\n")
	docs := h.load(t, path)
	_, err := uc.Index(context.Background(), docs, IndexOptions{Namespace: testNamespace, Cleanup: CleanupFull})
	require.NoError(t, err)
	assert.Equal(t, len(docs), h.count(t))
}

func TestEntryIDIsDeterministic(t *testing.T) {
	a := EntryID("doc.txt_abc", 0, "h1")
	assert.Equal(t, a, EntryID("doc.txt_abc", 0, "h1"))
	assert.NotEqual(t, a, EntryID("doc.txt_abc", 1, "h1"))
	assert.NotEqual(t, a, EntryID("doc.txt_abd", 0, "h1"))
}
