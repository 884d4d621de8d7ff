package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/observability"
	"docrag/internal/port"
)

const systemPrompt = "You are an expert assistant answering based only on the given context."

// AnswerUseCase retrieves context and asks the generator for a one-line answer.
type AnswerUseCase struct {
	query     *QueryUseCase
	generator port.Generator
	packer    *ContextPacker
	logger    *slog.Logger
}

// NewAnswerUseCase wires the generation variant. A nil packer joins every
// retrieved chunk.
func NewAnswerUseCase(query *QueryUseCase, generator port.Generator, packer *ContextPacker, logger *slog.Logger) *AnswerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if packer == nil {
		packer = NewContextPacker(nil, 0)
	}
	return &AnswerUseCase{
		query:     query,
		generator: generator,
		packer:    packer,
		logger:    logger,
	}
}

// Answer never calls the generator when retrieval comes back empty; the
// returned Answer has NoContext set instead.
func (u *AnswerUseCase) Answer(ctx context.Context, question string, k int) (*domain.Answer, error) {
	results, err := u.query.Retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}
	if NoResults(results) {
		u.logger.Debug("no context retrieved", "question", question)
		return &domain.Answer{Question: question, NoContext: true}, nil
	}

	packed := u.packer.Pack(results)
	text, err := u.generate(ctx, packed, question)
	if err != nil {
		return nil, err
	}

	return &domain.Answer{
		Question: question,
		Text:     strings.TrimSpace(text),
		Sources:  packed.Entries,
	}, nil
}

func (u *AnswerUseCase) generate(ctx context.Context, packed PackedContext, question string) (text string, err error) {
	ctx, span := observability.StartGenerateSpan(ctx, u.generator.ModelName(), len(packed.Entries))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	u.logger.Debug("generating", "model", u.generator.ModelName(), "chunks", len(packed.Entries), "tokens", packed.UsedTokens)
	text, err = u.generator.Generate(ctx, systemPrompt, BuildPrompt(packed.Text, question))
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationProvider) {
			err = fmt.Errorf("%w: %w", domain.ErrGenerationProvider, err)
		}
		return "", err
	}
	return text, nil
}

// BuildPrompt renders the user prompt sent with the retrieved context.
func BuildPrompt(contextText, question string) string {
	return "Context:\n" + contextText + "\n\nQuestion: " + question + "\nAnswer in one line:"
}
