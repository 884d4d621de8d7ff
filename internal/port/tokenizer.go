package port

// Tokenizer turns text into normalized terms.
type Tokenizer interface {
	Tokenize(text string) []string

	// CountTokens estimates the LLM token count of text.
	CountTokens(text string) int
}
