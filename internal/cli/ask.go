package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var askFlags questionFlags

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question with a language model over retrieved context",
	Long: `Retrieve the chunks closest to a question and ask the generation model for a
one-line answer based only on them. Nothing is sent to the model when no
context is found.

Examples:
  docrag ask -q "What color is the sky?"
  docrag ask --namespace notes`,
	Annotations: map[string]string{annotationCredentials: needsGeneration},
	RunE:        runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	addQuestionFlags(askCmd, &askFlags)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openComponents(ctx, cfg, creds, logger, openOptions{namespace: resolveNamespace(askFlags.namespace)})
	if err != nil {
		return err
	}
	defer c.Close()

	answers, err := c.answerUseCase(creds)
	if err != nil {
		return err
	}
	defer c.logUsage()
	if err := prepareIndex(ctx, c, askFlags.indexPath); err != nil {
		return err
	}

	handle := func(ctx context.Context, question string, out io.Writer) error {
		fmt.Fprintf(out, "\nQuerying for: %s\n", question)
		answer, err := answers.Answer(ctx, question, askFlags.k())
		if err != nil {
			return err
		}
		if answer.NoContext {
			fmt.Fprintln(out, warningStyle.Render("No relevant context found."))
			return nil
		}
		fmt.Fprintf(out, "\n%s\n%s\n", titleStyle.Render("Answer:"), answer.Text)
		return nil
	}

	return ask(ctx, askFlags.question, handle)
}
