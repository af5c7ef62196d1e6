// Package token approximates the LLM token cost of a text span. The
// estimate is used only for relative sizing decisions in the planner, never
// for correctness, so it favors speed and determinism over tokenizer parity.
package token

import (
	"unicode"
)

// Estimator reports an approximate token count for a text span. Estimates
// must be deterministic and monotonic in text length.
type Estimator interface {
	Estimate(text string) int
}

// runesPerToken approximates how many non-CJK runes map to one token.
// Subword tokenizers average around four characters per token for
// alphabetic scripts.
const runesPerToken = 4

// Heuristic is the default Estimator. CJK runes are counted one token
// each (most CJK codepoints tokenize to at least one token); everything
// else is counted at runesPerToken runes per token.
type Heuristic struct{}

// NewHeuristic returns the default estimator.
func NewHeuristic() Heuristic { return Heuristic{} }

// Estimate returns the approximate token count of text. Empty text costs
// zero; any non-empty text costs at least one token.
func (Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	tokens := cjk + (other+runesPerToken-1)/runesPerToken
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
