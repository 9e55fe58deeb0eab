package driven

// Tokenizer supplies token counts for chunk budgeting.
// Counting is a local, CPU-bound operation and takes no context.
type Tokenizer interface {
	// CountTokens returns the token count for text.
	CountTokens(text string) int

	// Name identifies the tokenizer/encoding (e.g. "cl100k_base").
	Name() string
}
