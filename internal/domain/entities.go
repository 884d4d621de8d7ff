package domain

import (
	"sort"
	"time"
)

// Fingerprint is the content-derived identity of one version of a source file.
type Fingerprint string

// SourceKey names one version of one source file: path + "_" + fingerprint.
func SourceKey(path string, fp Fingerprint) string {
	return path + "_" + string(fp)
}

// Metadata is the typed metadata carried by every Document and VectorEntry.
// Source is required; everything else lives in Extra.
type Metadata struct {
	Source string            `json:"source"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Get returns an extra field, or Source for the "source" key.
func (m Metadata) Get(key string) string {
	if key == "source" {
		return m.Source
	}
	return m.Extra[key]
}

// Keys returns the extra keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Document struct {
	Content  string
	Metadata Metadata
}

type LedgerRecord struct {
	Namespace     string
	SourceKey     string
	ChunkHashes   []string
	LastIndexedAt time.Time
}

// Pending reports whether the record was written before its vectors were
// committed. A pending record never matches a real batch.
func (r LedgerRecord) Pending() bool {
	return len(r.ChunkHashes) == 0
}

type VectorEntry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

type ScoredEntry struct {
	Entry VectorEntry
	Score float64
}

type Answer struct {
	Question  string
	Text      string
	Sources   []ScoredEntry
	NoContext bool
}

// SourceAction is the reconciliation decision taken for one sourceKey.
type SourceAction string

const (
	ActionAdded   SourceAction = "added"
	ActionSkipped SourceAction = "skipped"
	ActionDeleted SourceAction = "deleted"
)

type SourceOutcome struct {
	SourceKey string
	Action    SourceAction
	Chunks    int
}

type IndexResult struct {
	Added   int
	Skipped int
	Deleted int
	Sources []SourceOutcome
}
