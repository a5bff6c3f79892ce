package prompt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// EstimateTokens counts cl100k_base tokens. Gemini uses a different
// vocabulary, so the number is an estimate for logs and inspection only.
func EstimateTokens(text string) (int, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil {
		return 0, errors.Wrap(codecErr, "load tokenizer")
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode prompt")
	}
	return len(ids), nil
}

// EstimateTokens is a convenience for the rendered prompt.
func (r Request) EstimateTokens() (int, error) {
	return EstimateTokens(r.Prompt)
}
