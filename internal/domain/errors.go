package domain

import "errors"

var (
	// ErrConfiguration is returned for missing credentials or invalid settings.
	ErrConfiguration = errors.New("configuration error")

	ErrIO       = errors.New("i/o error")
	ErrNotFound = errors.New("not found")

	// ErrFormat is returned when a document cannot be decoded as text.
	ErrFormat = errors.New("format error")

	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrGenerationProvider = errors.New("generation provider error")
	ErrVectorStore        = errors.New("vector store error")
	ErrLedger             = errors.New("ledger error")

	ErrInvalidInput = errors.New("invalid input")
)
