package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"docrag/internal/adapter/fingerprint"
	"docrag/internal/domain"
	"docrag/internal/observability"
	"docrag/internal/port"
)

// CleanupFull deletes every ledger key that is absent from the batch.
const CleanupFull = "full"

// entryNamespace seeds the deterministic entry IDs.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docrag/vector-entry"))

// IndexOptions controls one reconciliation pass.
type IndexOptions struct {
	Namespace string
	Cleanup   string

	// Progress is called after each source key is reconciled.
	Progress func(done, total int)
}

// IndexUseCase reconciles a batch of documents against the ledger and the
// vector store.
type IndexUseCase struct {
	embedder port.Embedder
	store    port.VectorStore
	ledger   port.Ledger
	logger   *slog.Logger
	now      func() time.Time
}

func NewIndexUseCase(embedder port.Embedder, store port.VectorStore, ledger port.Ledger, logger *slog.Logger) *IndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexUseCase{
		embedder: embedder,
		store:    store,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

type sourceBatch struct {
	key    string
	docs   []domain.Document
	hashes []string
}

// Index makes the store and the ledger reflect exactly the given batch.
// Unchanged keys are skipped without embedding. A failed pass leaves the
// ledger in a state the next pass repairs.
func (u *IndexUseCase) Index(ctx context.Context, docs []domain.Document, opts IndexOptions) (result *domain.IndexResult, err error) {
	if opts.Cleanup != CleanupFull {
		return nil, fmt.Errorf("%w: unsupported cleanup mode %q", domain.ErrInvalidInput, opts.Cleanup)
	}

	batches, err := groupBySource(docs)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartIndexRunSpan(ctx, opts.Namespace, len(docs))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	records, err := u.ledger.Records(ctx, opts.Namespace)
	if err != nil {
		return nil, err
	}
	known := make(map[string]domain.LedgerRecord, len(records))
	for _, rec := range records {
		known[rec.SourceKey] = rec
	}

	result = &domain.IndexResult{}
	total := len(batches)
	seen := make(map[string]bool, total)

	for i, b := range batches {
		seen[b.key] = true

		if rec, ok := known[b.key]; ok && !rec.Pending() && slices.Equal(rec.ChunkHashes, hashSet(b.hashes)) {
			u.logger.Debug("source unchanged", "source", b.key, "chunks", len(b.docs))
			result.Skipped += len(b.docs)
			result.Sources = append(result.Sources, domain.SourceOutcome{SourceKey: b.key, Action: domain.ActionSkipped, Chunks: len(b.docs)})
		} else {
			var prev *domain.LedgerRecord
			if rec, ok := known[b.key]; ok {
				prev = &rec
			}
			removed, err := u.indexSource(ctx, opts.Namespace, b, prev)
			if err != nil {
				return result, err
			}
			result.Added += len(b.docs)
			result.Deleted += removed
			result.Sources = append(result.Sources, domain.SourceOutcome{SourceKey: b.key, Action: domain.ActionAdded, Chunks: len(b.docs)})
		}

		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	for _, rec := range records {
		if seen[rec.SourceKey] {
			continue
		}
		removed, err := u.store.DeleteBySource(ctx, rec.SourceKey)
		if err != nil {
			return result, wrapStore(err)
		}
		if err := u.ledger.Delete(ctx, opts.Namespace, rec.SourceKey); err != nil {
			return result, err
		}
		u.logger.Debug("source removed", "source", rec.SourceKey, "entries", removed)
		result.Deleted += removed
		result.Sources = append(result.Sources, domain.SourceOutcome{SourceKey: rec.SourceKey, Action: domain.ActionDeleted, Chunks: removed})
	}

	observability.RecordIndexResult(span, result.Added, result.Skipped, result.Deleted)
	u.logger.Info("index run complete",
		"namespace", opts.Namespace,
		"added", result.Added,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
	)
	return result, nil
}

// indexSource embeds and stores one key, returning how many old entries it
// replaced. The pending record is written only after embedding succeeds so a
// provider failure leaves the ledger untouched. prev is the key's record
// before this run, if any.
func (u *IndexUseCase) indexSource(ctx context.Context, namespace string, b sourceBatch, prev *domain.LedgerRecord) (removed int, err error) {
	ctx, span := observability.StartIndexSourceSpan(ctx, b.key, len(b.docs))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	texts := make([]string, len(b.docs))
	for i, d := range b.docs {
		texts[i] = d.Content
	}
	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingProvider) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbeddingProvider, err)
		}
		return 0, err
	}
	if len(vectors) != len(b.docs) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingProvider, len(vectors), len(b.docs))
	}

	entries := make([]domain.VectorEntry, len(b.docs))
	for i, d := range b.docs {
		entries[i] = domain.VectorEntry{
			ID:       EntryID(b.key, i, b.hashes[i]),
			Vector:   vectors[i],
			Text:     d.Content,
			Metadata: d.Metadata,
		}
	}

	if err := u.ledger.Upsert(ctx, domain.LedgerRecord{
		Namespace:     namespace,
		SourceKey:     b.key,
		LastIndexedAt: u.now(),
	}); err != nil {
		return 0, err
	}

	removed, err = u.replace(ctx, b.key, entries)
	if err != nil {
		err = wrapStore(err)
		if _, atomic := u.store.(port.SourceReplacer); !atomic {
			// a partial delete-then-upsert may have run; the pending record
			// makes the next pass redo the key
			u.logger.Warn("vector store write failed, source left pending", "source", b.key, "error", err)
			return 0, err
		}
		if rerr := u.restore(ctx, namespace, b.key, prev); rerr != nil {
			return 0, errors.Join(err, rerr)
		}
		u.logger.Warn("vector store write failed, ledger restored", "source", b.key, "error", err)
		return 0, err
	}

	if err := u.ledger.Upsert(ctx, domain.LedgerRecord{
		Namespace:     namespace,
		SourceKey:     b.key,
		ChunkHashes:   b.hashes,
		LastIndexedAt: u.now(),
	}); err != nil {
		return removed, err
	}

	u.logger.Debug("source indexed", "source", b.key, "chunks", len(entries), "replaced", removed)
	return removed, nil
}

// restore puts the key's ledger row back to its state before the run after
// an atomic replace failed and left the store unchanged.
func (u *IndexUseCase) restore(ctx context.Context, namespace, key string, prev *domain.LedgerRecord) error {
	if prev == nil {
		return u.ledger.Delete(ctx, namespace, key)
	}
	return u.ledger.Upsert(ctx, *prev)
}

func (u *IndexUseCase) replace(ctx context.Context, key string, entries []domain.VectorEntry) (int, error) {
	if r, ok := u.store.(port.SourceReplacer); ok {
		return r.ReplaceSource(ctx, key, entries)
	}
	removed, err := u.store.DeleteBySource(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := u.store.Upsert(ctx, entries); err != nil {
		return removed, err
	}
	return removed, nil
}

// groupBySource groups documents by source key in first-seen order and
// computes the sorted, unique hash set of each group. Hash position i in a
// group is the hash of the group's i-th document.
func groupBySource(docs []domain.Document) ([]sourceBatch, error) {
	var batches []sourceBatch
	index := make(map[string]int)

	for i, d := range docs {
		if d.Metadata.Source == "" {
			return nil, fmt.Errorf("%w: document %d has no source", domain.ErrInvalidInput, i)
		}
		pos, ok := index[d.Metadata.Source]
		if !ok {
			pos = len(batches)
			index[d.Metadata.Source] = pos
			batches = append(batches, sourceBatch{key: d.Metadata.Source})
		}
		batches[pos].docs = append(batches[pos].docs, d)
	}

	for i := range batches {
		b := &batches[i]
		b.hashes = make([]string, len(b.docs))
		for j, d := range b.docs {
			b.hashes[j] = fingerprint.Chunk(d)
		}
	}
	return batches, nil
}

// hashSet returns the sorted unique hashes, the form the ledger stores.
func hashSet(hashes []string) []string {
	set := slices.Clone(hashes)
	slices.Sort(set)
	return slices.Compact(set)
}

// EntryID derives a stable UUID for the i-th chunk of a source key.
func EntryID(sourceKey string, ordinal int, hash string) string {
	return uuid.NewSHA1(entryNamespace, []byte(sourceKey+"\x00"+strconv.Itoa(ordinal)+"\x00"+hash)).String()
}

func wrapStore(err error) error {
	if errors.Is(err, domain.ErrVectorStore) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrVectorStore, err)
}
