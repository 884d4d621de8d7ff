package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
	"docrag/internal/usecase"
)

// Flags shared by query and ask.
type questionFlags struct {
	question  string
	topK      int
	indexPath string
	namespace string
}

var queryFlags questionFlags

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the chunks closest to a question",
	Long: `Retrieve the indexed chunks most similar to a question and print them as is,
without a language model.

Without -q, questions are read interactively until 'exit' or 'quit'.

Examples:
  docrag query -q "What color is the sky?"
  docrag query -k 5
  docrag query --namespace notes -q "When is the review?"
  docrag query --ephemeral --index ./docs`,
	Annotations: map[string]string{annotationCredentials: needsEmbedding},
	RunE:        runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addQuestionFlags(queryCmd, &queryFlags)
}

func addQuestionFlags(cmd *cobra.Command, f *questionFlags) {
	cmd.Flags().StringVarP(&f.question, "query", "q", "", "ask a single question and exit")
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	cmd.Flags().StringVar(&f.indexPath, "index", "", "index this file or directory before answering")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "index namespace to search (default from config)")
}

func (f questionFlags) k() int {
	if f.topK > 0 {
		return f.topK
	}
	return cfg.Retrieve.TopK
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openComponents(ctx, cfg, creds, logger, openOptions{namespace: resolveNamespace(queryFlags.namespace)})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := prepareIndex(ctx, c, queryFlags.indexPath); err != nil {
		return err
	}

	query := c.queryUseCase()
	handle := func(ctx context.Context, question string, out io.Writer) error {
		fmt.Fprintf(out, "Querying for: %s\n", question)
		results, err := query.Search(ctx, question, queryFlags.k())
		if err != nil {
			return err
		}
		printResults(out, results, queryFlags.k())
		return nil
	}

	return ask(ctx, queryFlags.question, handle)
}

// prepareIndex runs an index pass first when --index is given.
func prepareIndex(ctx context.Context, c *components, path string) error {
	if path == "" {
		return nil
	}
	result, err := indexPath(ctx, c, path, os.Stderr)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	printIndexResult(os.Stderr, result)
	return nil
}

// ask answers a single question, or loops over stdin when question is empty.
func ask(ctx context.Context, question string, handle QuestionHandler) error {
	if question == "" {
		return RunLoop(ctx, os.Stdin, os.Stdout, handle)
	}
	cmd := ParseLine(question)
	if cmd.Action != Continue {
		return nil
	}
	return handle(ctx, cmd.Question, os.Stdout)
}

func printResults(out io.Writer, results []domain.ScoredEntry, k int) {
	if usecase.NoResults(results) {
		fmt.Fprintln(out, warningStyle.Render("No relevant context found."))
		return
	}

	fmt.Fprintf(out, "\n%s\n%s\n", titleStyle.Render(fmt.Sprintf("Top %d matching chunks:", k)), ruleLine)
	for i, r := range results {
		fmt.Fprintf(out, "[%d] Source: %s %s\n", i+1, sourceStyle.Render(r.Entry.Metadata.Source), mutedStyle.Render(fmt.Sprintf("(score %.3f)", r.Score)))
		fmt.Fprintln(out, strings.TrimSpace(r.Entry.Text))
		fmt.Fprintln(out, ruleLine)
	}
}
