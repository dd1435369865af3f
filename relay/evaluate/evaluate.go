// Package evaluate scores completed responses so the router can learn which
// models actually deliver for which task categories.
package evaluate

import (
	"strings"

	"github.com/cheaprelay/cheaprelay/relay/classify"
)

const (
	baseScore        = 70
	emptyPenalty     = 30
	tooShortPenalty  = 20
	codeBlockBonus   = 15
	lengthBonus      = 10
	refusalPenalty   = 15
	shortResponseLen = 20
)

// Score rates a response heuristically. A false CLI flag overrides everything:
// the call itself failed, so the score is (false, 0).
func Score(text string, cliSuccess bool, category string, complexity int) (ok bool, score int) {
	if !cliSuccess {
		return false, 0
	}

	s := baseScore
	trimmed := strings.TrimSpace(text)

	if trimmed == "" {
		s -= emptyPenalty
	}
	if len(trimmed) < shortResponseLen && complexity > 20 {
		s -= tooShortPenalty
	}
	if classify.CodeCategory(category) && strings.Contains(text, "```") {
		s += codeBlockBonus
	}
	if len(trimmed) > complexity*5 {
		s += lengthBonus
	}
	if classify.HasRefusal(text) {
		s -= refusalPenalty
	}

	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	return true, s
}
