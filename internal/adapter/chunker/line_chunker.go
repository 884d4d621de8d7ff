package chunker

import (
	"fmt"
	"strings"

	"docrag/internal/port"
)

// LineChunker packs whole lines into windows of at most maxTokens, repeating
// roughly overlap tokens of trailing lines at the start of the next window.
type LineChunker struct {
	maxTokens int
	overlap   int
	tokenizer port.Tokenizer
}

func NewLineChunker(maxTokens, overlap int, tokenizer port.Tokenizer) *LineChunker {
	return &LineChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
		tokenizer: tokenizer,
	}
}

func (c *LineChunker) Policy() string {
	return fmt.Sprintf("%s:%d:%d", StrategyLines, c.maxTokens, c.overlap)
}

func (c *LineChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	var chunks []string
	startLine := 0

	for startLine < len(lines) {
		endLine := startLine
		currentTokens := 0
		var chunkText strings.Builder

		for endLine < len(lines) {
			lineText := lines[endLine]
			lineTokens := c.tokenizer.CountTokens(lineText)

			if currentTokens > 0 && currentTokens+lineTokens > c.maxTokens {
				break
			}

			if chunkText.Len() > 0 {
				chunkText.WriteString("\n")
			}
			chunkText.WriteString(lineText)
			currentTokens += lineTokens
			endLine++
		}

		if strings.TrimSpace(chunkText.String()) != "" {
			chunks = append(chunks, chunkText.String())
		}
		if endLine >= len(lines) {
			break
		}

		newStart := endLine - c.overlapLines(lines, startLine, endLine)
		if newStart <= startLine {
			newStart = startLine + 1
		}
		startLine = newStart
	}

	return chunks
}

func (c *LineChunker) overlapLines(lines []string, start, end int) int {
	if c.overlap == 0 {
		return 0
	}

	n := 0
	tokens := 0
	for i := end - 1; i > start && tokens < c.overlap; i-- {
		tokens += c.tokenizer.CountTokens(lines[i])
		n++
	}
	return n
}
