package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"docrag/config"
	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/cache"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/ledger"
	"docrag/internal/adapter/llm"
	"docrag/internal/adapter/loader"
	"docrag/internal/adapter/memstore"
	"docrag/internal/adapter/qdrant"
	"docrag/internal/adapter/retriever"
	"docrag/internal/adapter/store"
	"docrag/internal/domain"
	"docrag/internal/port"
	"docrag/internal/usecase"
)

// components holds the handles one command works with. Close releases them
// in reverse order of opening.
type components struct {
	cfg        *config.Config
	namespace  string
	collection string
	logger     *slog.Logger
	tokenizer  *analyzer.Tokenizer
	embedder   port.Embedder
	store      port.VectorStore
	ledger     *ledger.SQLiteLedger
	cache      *cache.QueryCache
	generator  port.Generator

	closers []func() error
}

type openOptions struct {
	// namespace selects both the ledger records and the store collection.
	namespace string
	// reset empties the collection before the embedding model is checked.
	reset bool
}

func openComponents(ctx context.Context, cfg *config.Config, creds config.Credentials, logger *slog.Logger, opts openOptions) (_ *components, err error) {
	if err := config.ValidateNamespace(opts.namespace); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	c := &components{
		cfg:        cfg,
		namespace:  opts.namespace,
		collection: cfg.Store.CollectionFor(opts.namespace),
		logger:     logger,
		tokenizer:  analyzer.NewTokenizer(),
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.embedder, err = newEmbedder(cfg.Embedding, creds, c.tokenizer)
	if err != nil {
		return nil, err
	}

	ledgerPath := cfg.Ledger.Path
	if cfg.Store.Backend == "memory" {
		dir, err := os.MkdirTemp("", "docrag-ledger-")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedger, err)
		}
		c.closers = append(c.closers, func() error { return os.RemoveAll(dir) })
		ledgerPath = filepath.Join(dir, "index_log.db")
	}
	c.ledger, err = ledger.Open(ctx, ledgerPath)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.ledger.Close)

	c.store, err = openStore(ctx, cfg.Store, c.collection, c.embedder, opts.reset)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.store.Close)

	c.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)

	logger.Debug("components ready",
		"backend", cfg.Store.Backend,
		"namespace", c.namespace,
		"collection", c.collection,
		"embedder", c.embedder.ModelName(),
		"ledger", c.ledger.Path(),
	)
	return c, nil
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *components) loader() (*loader.TextLoader, error) {
	ch := c.cfg.Index.Chunking
	chk, err := chunker.New(ch.Strategy, ch.ChunkTokens, ch.ChunkOverlap, c.tokenizer)
	if err != nil {
		return nil, err
	}
	return loader.New(chk), nil
}

func (c *components) indexUseCase() *usecase.IndexUseCase {
	return usecase.NewIndexUseCase(c.embedder, c.store, c.ledger, c.logger)
}

// queryUseCase searches through the query cache, so repeated questions in
// one session are answered without a provider call.
func (c *components) queryUseCase() *usecase.QueryUseCase {
	semantic := retriever.NewSemanticRetriever(c.store, c.embedder)
	return usecase.NewQueryUseCase(cache.NewCachedRetriever(semantic, c.cache), c.logger)
}

func (c *components) answerUseCase(creds config.Credentials) (*usecase.AnswerUseCase, error) {
	gen, err := newGenerator(c.cfg.Generation, creds)
	if err != nil {
		return nil, err
	}
	c.generator = gen
	packer := usecase.NewContextPacker(c.tokenizer, c.cfg.Retrieve.ContextTokenBudget)
	return usecase.NewAnswerUseCase(c.queryUseCase(), gen, packer, c.logger), nil
}

// usageReporter is implemented by generators that count their calls.
type usageReporter interface {
	Stats() llm.Stats
}

// logUsage reports generator usage once a session ends.
func (c *components) logUsage() {
	r, ok := c.generator.(usageReporter)
	if !ok {
		return
	}
	st := r.Stats()
	if st.TotalCalls == 0 {
		return
	}
	c.logger.Info("generation usage",
		"calls", st.TotalCalls,
		"input_tokens", st.InputTokens,
		"output_tokens", st.OutputTokens,
	)
}

func newEmbedder(cfg config.EmbeddingConfig, creds config.Credentials, tok port.Tokenizer) (port.Embedder, error) {
	opts := embedding.OpenAIOptions{
		APIKey:            creds.EmbeddingKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Dimension:         cfg.Dimension,
		BatchSize:         cfg.BatchSize,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	switch cfg.Provider {
	case "openai":
		emb, err := embedding.NewOpenAIEmbedder(opts)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "ollama":
		return embedding.NewOllamaEmbedder(opts), nil
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimension, tok), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", domain.ErrConfiguration, cfg.Provider)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, collection string, emb port.Embedder, reset bool) (port.VectorStore, error) {
	switch cfg.Backend {
	case "bolt":
		st, err := store.Open(cfg.PersistDir, collection)
		if err != nil {
			return nil, err
		}
		if reset {
			if err := st.Clear(); err != nil {
				st.Close()
				return nil, err
			}
		}
		if err := st.EnsureEmbedding(emb.ModelName(), emb.Dimension()); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "qdrant":
		st, err := qdrant.New(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, collection, emb.Dimension())
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unsupported store backend: %s", domain.ErrConfiguration, cfg.Backend)
	}
}

func newGenerator(cfg config.GenerationConfig, creds config.Credentials) (port.Generator, error) {
	opts := llm.Options{
		APIKey:            creds.GenerationKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Temperature:       cfg.Temperature,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	switch cfg.Provider {
	case "openai":
	case "ollama":
		opts.APIKey = "ollama"
		if opts.BaseURL == "" {
			opts.BaseURL = "http://localhost:11434/v1"
		}
	default:
		return nil, fmt.Errorf("%w: unsupported generation provider: %s", domain.ErrConfiguration, cfg.Provider)
	}

	gen, err := llm.New(opts)
	if err != nil {
		return nil, err
	}
	return gen, nil
}
