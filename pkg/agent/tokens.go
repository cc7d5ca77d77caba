package agent

import (
	"github.com/tiktoken-go/tokenizer"
)

// Token budgets for prompt assembly. Command output and file context are
// truncated so a noisy failure cannot blow the prompt past the model's
// window.
const (
	outputTokenBudget  = 2000
	contextTokenBudget = 8000
)

// TokenCounter provides token counting for prompt budgeting. Claude
// tokenization is approximated with the GPT-4 encoding, which is close
// enough for budget enforcement.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		// Fall back to character-based estimation.
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateHead trims text to at most budget tokens, keeping the tail.
// Command failures report the interesting part last, so the head goes
// first.
func (tc *TokenCounter) TruncateHead(text string, budget int) string {
	if budget <= 0 || tc.Count(text) <= budget {
		return text
	}

	// Binary search the largest tail that fits the budget.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi) / 2
		if tc.Count(text[mid:]) <= budget {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return "..." + text[lo:]
}
