// Package tokenizer estimates token counts for budgeting, compression
// accounting, and cost fallbacks.
package tokenizer

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/cheaprelay/cheaprelay/common/logger"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Offline environments cannot fetch the BPE ranks; estimation
			// falls back to the chars/4 approximation.
			logger.Logger.Warn("tiktoken encoding unavailable, falling back to approximate counts",
				zap.Error(err))
			return
		}
		encoding = enc
	})
	return encoding
}

// EstimateTokens returns the token count of text, approximated as len/4 when
// the tokenizer is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := getEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
