package chunker

import (
	"fmt"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/port"
)

const (
	StrategyWhole = "whole"
	StrategyLines = "lines"
)

// WholeChunker treats the entire file as a single chunk.
type WholeChunker struct{}

func NewWholeChunker() *WholeChunker {
	return &WholeChunker{}
}

func (WholeChunker) Policy() string {
	return StrategyWhole
}

func (WholeChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []string{text}
}

// New builds the chunker for a configured strategy.
func New(strategy string, maxTokens, overlap int, tokenizer port.Tokenizer) (port.Chunker, error) {
	switch strategy {
	case "", StrategyWhole:
		return NewWholeChunker(), nil
	case StrategyLines:
		if maxTokens <= 0 {
			return nil, fmt.Errorf("%w: chunk_tokens must be positive, got %d", domain.ErrConfiguration, maxTokens)
		}
		if overlap < 0 || overlap >= maxTokens {
			return nil, fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d", domain.ErrConfiguration, maxTokens, overlap)
		}
		return NewLineChunker(maxTokens, overlap, tokenizer), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", domain.ErrConfiguration, strategy)
	}
}
