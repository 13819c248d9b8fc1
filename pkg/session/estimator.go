package session

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator reports how many tokens a piece of text will consume in
// the downstream model's context window.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// HeuristicEstimator approximates tokens as len(text)/4, which tracks
// real tokenizers closely enough for budget enforcement and needs no
// encoder data.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// TiktokenEstimator counts tokens with a real BPE encoding for exact
// budget accounting.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, e.g. "cl100k_base".
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

func (e *TiktokenEstimator) EstimateTokens(text string) int {
	return len(e.encoding.Encode(text, nil, nil))
}
