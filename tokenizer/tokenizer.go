// Package tokenizer estimates token counts for budgeting and fingerprint
// sizing. The tiktoken encoding is a process-wide resource initialized lazily
// on first use; subsequent reads are lock-free.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	initOnce sync.Once
	encoding *tiktoken.Tiktoken
	initErr  error
)

// Counter satisfies llm.TokenCounter using the shared encoding.
type Counter struct{}

// New returns the shared token counter.
func New() Counter { return Counter{} }

// CountTokens returns the token count of text. When the encoding cannot be
// initialized (e.g. no cached BPE data and no network), it falls back to a
// chars/4 estimate so budgeting still functions.
func (Counter) CountTokens(text string) int {
	return CountTokens(text)
}

// CountTokens is the package-level counterpart of Counter.CountTokens.
func CountTokens(text string) int {
	initOnce.Do(func() {
		encoding, initErr = tiktoken.GetEncoding(encodingName)
	})
	if initErr != nil || encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
