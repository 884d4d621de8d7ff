package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/adapter/retriever"
	"docrag/internal/domain"
)

type fakeGenerator struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (g *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.calls++
	g.system, g.user = system, user
	return g.reply, g.err
}

func (g *fakeGenerator) ModelName() string { return "fake" }

// fixedRetriever returns its results in the given order.
type fixedRetriever struct {
	results []domain.ScoredEntry
	err     error
}

func (r fixedRetriever) Search(context.Context, string, int) ([]domain.ScoredEntry, error) {
	return r.results, r.err
}

func scored(text string, score float64) domain.ScoredEntry {
	return domain.ScoredEntry{Entry: domain.VectorEntry{ID: text, Text: text, Metadata: domain.Metadata{Source: text + "_fp"}}, Score: score}
}

func TestSkyIsBlue(t *testing.T) {
	h := newHarness(t)
	path := h.write(t, "doc.txt", "The sky is blue.")
	docs := h.load(t, path)
	h.index(t, docs)

	q := NewQueryUseCase(retriever.NewSemanticRetriever(h.store, h.embedder), nil)
	results, err := q.Retrieve(context.Background(), "What color is the sky?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "The sky is blue.", results[0].Entry.Text)
	assert.Equal(t, docs[0].Metadata.Source, results[0].Entry.Metadata.Source)
	assert.True(t, strings.HasPrefix(results[0].Entry.Metadata.Source, path+"_"))

	gen := &fakeGenerator{reply: "  The sky is blue.\n"}
	a := NewAnswerUseCase(q, gen, nil, nil)
	answer, err := a.Answer(context.Background(), "What color is the sky?", 1)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", answer.Text)
	assert.False(t, answer.NoContext)
	assert.Equal(t, systemPrompt, gen.system)
	assert.Equal(t, "Context:\nThe sky is blue.\n\nQuestion: What color is the sky?\nAnswer in one line:", gen.user)
}

func TestAnswerEmptyIndexSkipsGenerator(t *testing.T) {
	h := newHarness(t)
	q := NewQueryUseCase(retriever.NewSemanticRetriever(h.store, h.embedder), nil)
	gen := &fakeGenerator{reply: "should not be used"}

	answer, err := NewAnswerUseCase(q, gen, nil, nil).Answer(context.Background(), "anything?", 3)
	require.NoError(t, err)
	assert.True(t, answer.NoContext)
	assert.Empty(t, answer.Text)
	assert.Equal(t, 0, gen.calls)

	results, err := q.Retrieve(context.Background(), "anything?", 3)
	require.NoError(t, err)
	assert.True(t, NoResults(results))
}

func TestAnswerJoinsContextInRankOrder(t *testing.T) {
	q := NewQueryUseCase(fixedRetriever{results: []domain.ScoredEntry{
		scored("first", 0.9),
		scored("second", 0.5),
		scored("third", 0.1),
	}}, nil)
	gen := &fakeGenerator{reply: "ok"}

	answer, err := NewAnswerUseCase(q, gen, nil, nil).Answer(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, BuildPrompt("first\nsecond\nthird", "q"), gen.user)
	assert.Len(t, answer.Sources, 3)
}

func TestAnswerWrapsGeneratorErrors(t *testing.T) {
	q := NewQueryUseCase(fixedRetriever{results: []domain.ScoredEntry{scored("ctx", 1)}}, nil)
	gen := &fakeGenerator{err: errors.New("timeout")}

	_, err := NewAnswerUseCase(q, gen, nil, nil).Answer(context.Background(), "q", 1)
	require.ErrorIs(t, err, domain.ErrGenerationProvider)
}

func TestRetrievePropagatesProviderErrors(t *testing.T) {
	q := NewQueryUseCase(fixedRetriever{err: domain.ErrVectorStore}, nil)
	_, err := q.Retrieve(context.Background(), "q", 1)
	require.ErrorIs(t, err, domain.ErrVectorStore)
}

func TestRetrieveRejectsBadInput(t *testing.T) {
	q := NewQueryUseCase(fixedRetriever{}, nil)

	tests := []struct {
		name     string
		question string
		k        int
	}{
		{"empty question", "   ", 3},
		{"zero k", "q", 0},
		{"negative k", "q", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Retrieve(context.Background(), tt.question, tt.k)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRetrieveCapsAtK(t *testing.T) {
	q := NewQueryUseCase(fixedRetriever{results: []domain.ScoredEntry{scored("a", 1), scored("b", 0.5)}}, nil)
	results, err := q.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entry.Text)
}
