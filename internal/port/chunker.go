package port

// Chunker splits the text of one file into chunk texts.
type Chunker interface {
	Split(text string) []string

	// Policy identifies the chunking configuration. Changing it changes
	// every chunk hash produced afterwards.
	Policy() string
}
