// Package tiktoken provides token counting backed by OpenAI's BPE encodings.
package tiktoken

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
)

// DefaultEncoding is the encoding used by current OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a tiktoken BPE encoding.
type Tokenizer struct {
	enc  *tiktoken.Tiktoken
	name string
}

// Compile-time check that Tokenizer implements the driven port
var _ driven.Tokenizer = (*Tokenizer)(nil)

// New creates a tokenizer for the named encoding. An empty name selects
// DefaultEncoding. Encoding ranks are downloaded and cached on first use.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %q: %w", encoding, err)
	}

	return &Tokenizer{enc: enc, name: encoding}, nil
}

// ForModel creates a tokenizer using the encoding registered for model.
func ForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("resolving encoding for model %q: %w", model, err)
	}

	return &Tokenizer{enc: enc, name: model}, nil
}

// CountTokens returns the number of BPE tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name returns the encoding (or model) name this tokenizer was built from.
func (t *Tokenizer) Name() string {
	return t.name
}

// Heuristic approximates token counts without a BPE vocabulary. It stands in
// when encoding ranks cannot be loaded, such as offline environments, and
// leans toward overestimating so budget limits still hold.
type Heuristic struct{}

var _ driven.Tokenizer = Heuristic{}

// CountTokens estimates roughly four characters per token, never going
// below the whitespace word count.
func (Heuristic) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	words := len(strings.Fields(text))
	est := (utf8.RuneCountInString(text) + 3) / 4
	if words > est {
		est = words
	}
	return est
}

// Name identifies the heuristic counter.
func (Heuristic) Name() string {
	return "heuristic"
}

// NewWithFallback returns a BPE tokenizer when the encoding loads, and the
// Heuristic counter otherwise. The returned error explains why the fallback
// was taken; the tokenizer is usable either way.
func NewWithFallback(encoding string) (driven.Tokenizer, error) {
	tok, err := New(encoding)
	if err != nil {
		return Heuristic{}, err
	}
	return tok, nil
}
