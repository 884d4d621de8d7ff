package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
)

// Config holds all configuration for docrag.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Store      StoreConfig      `yaml:"store"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// IndexConfig holds indexing configuration.
type IndexConfig struct {
	Includes  []string       `yaml:"includes"`
	Excludes  []string       `yaml:"excludes"`
	Namespace string         `yaml:"namespace"`
	Chunking  ChunkingConfig `yaml:"chunking"`
}

type ChunkingConfig struct {
	Strategy     string `yaml:"strategy"` // "whole" or "lines"
	ChunkTokens  int    `yaml:"chunk_tokens"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// StoreConfig selects and locates the vector store.
type StoreConfig struct {
	Backend    string       `yaml:"backend"` // "bolt", "memory", "qdrant"
	PersistDir string       `yaml:"persist_dir"`
	Collection string       `yaml:"collection"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// CollectionFor names the collection holding one namespace. Every namespace
// gets its own collection, so stale deletion and resets in one namespace
// never touch another.
func (s StoreConfig) CollectionFor(namespace string) string {
	return s.Collection + "_" + namespace
}

type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string `yaml:"provider"`    // "openai", "ollama", "hash"
	Model             string `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv         string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL           string `yaml:"base_url"`
	Dimension         int    `yaml:"dimension"` // 0: known model size, else learned from the first response
	BatchSize         int    `yaml:"batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// GenerationConfig holds answer synthesis configuration.
type GenerationConfig struct {
	Provider          string  `yaml:"provider"` // "openai", "ollama"
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK               int           `yaml:"top_k"`
	ContextTokenBudget int           `yaml:"context_token_budget"` // 0 = unlimited
	CacheSize          int           `yaml:"cache_size"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // empty disables export
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Credentials are the resolved provider API keys.
type Credentials struct {
	EmbeddingKey  string
	GenerationKey string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Includes:  []string{"**/*.txt", "**/*.md", "**/*.rst"},
			Excludes:  []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "vector_store/**"},
			Namespace: "my_local_namespace",
			Chunking: ChunkingConfig{
				Strategy:     "whole",
				ChunkTokens:  512,
				ChunkOverlap: 50,
			},
		},
		Store: StoreConfig{
			Backend:    "bolt",
			PersistDir: "./vector_store",
			Collection: "rag_local",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Ledger: LedgerConfig{
			Path: "index_log.db",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 100,
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			Temperature: 0,
			APIKeyEnv:   "OPENAI_API_KEY",
		},
		Retrieve: RetrieveConfig{
			TopK:      3,
			CacheSize: 100,
			CacheTTL:  5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "docrag",
			SampleRate:  1.0,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrConfiguration, path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", domain.ErrConfiguration, path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for docrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "docrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".docrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: loading %s: %w", domain.ErrConfiguration, p, err)
		}
	}
	return nil
}

// Validate rejects settings no component can serve.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Backend {
	case "bolt", "memory", "qdrant":
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "openai", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unknown generation provider %q", c.Generation.Provider))
	}
	switch c.Index.Chunking.Strategy {
	case "", "whole", "lines":
	default:
		problems = append(problems, fmt.Sprintf("unknown chunking strategy %q", c.Index.Chunking.Strategy))
	}

	if err := ValidateNamespace(c.Index.Namespace); err != nil {
		problems = append(problems, "index."+err.Error())
	}
	if c.Store.Collection == "" {
		problems = append(problems, "store.collection is empty")
	}
	if c.Retrieve.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("retrieve.top_k must be positive, got %d", c.Retrieve.TopK))
	}
	if c.Retrieve.ContextTokenBudget < 0 {
		problems = append(problems, "retrieve.context_token_budget must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateNamespace accepts names that are also valid collection suffixes
// for every backend.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return errors.New("namespace is empty")
	}
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("namespace %q may only contain letters, digits, '_' and '-'", namespace)
	}
	return nil
}

// Credentials resolves API keys from the environment. The generation key is
// only required when needGeneration is set.
func (c *Config) Credentials(needGeneration bool) (Credentials, error) {
	var creds Credentials

	if c.Embedding.Provider == "openai" {
		key, err := lookupKey(c.Embedding.APIKeyEnv)
		if err != nil {
			return creds, fmt.Errorf("%w: embedding: %w", domain.ErrConfiguration, err)
		}
		creds.EmbeddingKey = key
	}

	if needGeneration && c.Generation.Provider == "openai" {
		key, err := lookupKey(c.Generation.APIKeyEnv)
		if err != nil {
			return creds, fmt.Errorf("%w: generation: %w", domain.ErrConfiguration, err)
		}
		creds.GenerationKey = key
	}

	return creds, nil
}

func lookupKey(env string) (string, error) {
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("%s is not set", env)
	}
	return key, nil
}
