package execlog

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// perRecordOverhead is the fixed token cost charged per record on top of its
// text fields.
const perRecordOverhead = 50

// TokenCounter estimates the token count of a text
type TokenCounter func(text string) int

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// DefaultTokenCounter counts tokens with the cl100k_base encoding when it is
// available and falls back to a rough 4-characters-per-token heuristic.
func DefaultTokenCounter(text string) int {
	if text == "" {
		return 0
	}

	encoderOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoder = enc
		}
	})

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return HeuristicTokenCounter(text)
}

// HeuristicTokenCounter approximates one token per four characters
func HeuristicTokenCounter(text string) int {
	return len(text) / 4
}
