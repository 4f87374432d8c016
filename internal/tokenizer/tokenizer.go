package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/allaspectsdev/keygate/internal/upstream"
)

// Tokenizer provides token counting using tiktoken encodings. It backfills
// usage numbers for audit rows and metrics when an upstream response omits
// its usage block. Encodings are cached via sync.Once to avoid repeated
// initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	// cl100k_base family
	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",
	"gpt-4o":      "cl100k_base",

	// o200k_base family
	"gpt-4o-2024-08-06":      "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4o-mini-2024-07-18": "o200k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model.
// Unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}

	// Try prefix matching for versioned model names.
	lower := strings.ToLower(model)
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) {
			return enc
		}
	}

	return "cl100k_base"
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	encName := t.GetEncoding(model)

	switch encName {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the number of tokens in the given text for the specified model.
func (t *Tokenizer) CountTokens(model, text string) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}
	tokens := enc.Encode(text, nil, nil)
	return len(tokens)
}

// CountMessages counts the total number of tokens across a slice of chat
// messages for the specified model. Each message incurs a 4-token overhead
// (role framing), and an additional 3 tokens are added for reply priming.
func (t *Tokenizer) CountMessages(model string, messages []upstream.Message) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}

	total := 0
	for _, msg := range messages {
		// Every message has a 4-token overhead: <im_start>{role}\n ... <im_end>\n
		total += 4
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}

	// 3 tokens for reply priming (<im_start>assistant<im_sep>)
	total += 3

	return total
}

// EstimateUsage fills in a usage block for responses that arrived without
// one. An upstream-provided usage with any non-zero field is returned
// unchanged.
func (t *Tokenizer) EstimateUsage(model string, prompt []upstream.Message, completion upstream.Message, got upstream.Usage) upstream.Usage {
	if got.TotalTokens > 0 || got.PromptTokens > 0 || got.CompletionTokens > 0 {
		return got
	}

	in := t.CountMessages(model, prompt)
	out := t.CountTokens(model, completion.Content)
	return upstream.Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}
