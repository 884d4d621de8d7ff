package usecase

import (
	"strings"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// ContextPacker joins retrieved chunk texts into the generation context.
type ContextPacker struct {
	tokenizer port.Tokenizer
	budget    int
}

// NewContextPacker returns a packer. A budget of zero or less, or a nil
// tokenizer, keeps every chunk.
func NewContextPacker(tokenizer port.Tokenizer, budget int) *ContextPacker {
	return &ContextPacker{tokenizer: tokenizer, budget: budget}
}

// PackedContext is the text handed to the generator and the chunks it holds.
type PackedContext struct {
	Text         string
	Entries      []domain.ScoredEntry
	UsedTokens   int
	BudgetTokens int
}

// Pack keeps chunks in rank order, skipping any that would overflow the
// budget. The top-ranked chunk is always kept.
func (p *ContextPacker) Pack(results []domain.ScoredEntry) PackedContext {
	packed := PackedContext{BudgetTokens: p.budget}
	if len(results) == 0 {
		return packed
	}

	limited := p.budget > 0 && p.tokenizer != nil
	texts := make([]string, 0, len(results))
	for i, r := range results {
		tokens := 0
		if p.tokenizer != nil {
			tokens = p.tokenizer.CountTokens(r.Entry.Text)
		}
		if limited && i > 0 && packed.UsedTokens+tokens > p.budget {
			continue
		}
		texts = append(texts, r.Entry.Text)
		packed.Entries = append(packed.Entries, r)
		packed.UsedTokens += tokens
	}

	packed.Text = strings.Join(texts, "\n")
	return packed
}
