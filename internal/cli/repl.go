package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Action is what the interactive loop does with one input line.
type Action int

const (
	Continue Action = iota
	Exit
	Skip
)

// Command is a parsed input line.
type Command struct {
	Action   Action
	Question string
}

// ParseLine classifies one line of user input. "exit" and "quit" end the
// loop in any case; blank lines are skipped.
func ParseLine(line string) Command {
	q := strings.TrimSpace(line)
	switch strings.ToLower(q) {
	case "":
		return Command{Action: Skip}
	case "exit", "quit":
		return Command{Action: Exit}
	}
	return Command{Action: Continue, Question: q}
}

// QuestionHandler answers one question, writing to out.
type QuestionHandler func(ctx context.Context, question string, out io.Writer) error

// RunLoop prompts for questions until exit, end of input or cancellation.
// Handler errors are printed and the loop continues. Lines have no length
// limit.
func RunLoop(ctx context.Context, in io.Reader, out io.Writer, handle QuestionHandler) error {
	reader := bufio.NewReader(in)
	fmt.Fprintln(out, "Ask a question or type 'exit' to quit.")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "\nYour question: ")
		line, err := reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		cmd := ParseLine(line)
		switch cmd.Action {
		case Skip:
			continue
		case Exit:
			fmt.Fprintln(out, "Exiting. Goodbye!")
			return nil
		}

		if err := handle(ctx, cmd.Question, out); err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
		}
	}
}
