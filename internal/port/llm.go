package port

import "context"

// Generator represents a language model for answer synthesis.
type Generator interface {
	// Generate produces text from a system instruction and a user prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
