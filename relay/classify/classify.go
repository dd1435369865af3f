// Package classify assigns a task category and a 0-100 complexity score to an
// incoming conversation, either with cheap heuristics or by asking an economy
// model to do it.
package classify

import (
	"regexp"
	"strings"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// Task categories.
const (
	CategoryCodeGen    = "code_gen"
	CategoryCodeReview = "code_review"
	CategoryDebug      = "debug"
	CategoryRefactor   = "refactor"
	CategoryExplain    = "explain"
	CategorySimpleQA   = "simple_qa"
	CategoryOther      = "other"
)

// CodeCategory reports whether responses for this category are expected to
// contain code.
func CodeCategory(category string) bool {
	switch category {
	case CategoryCodeGen, CategoryDebug, CategoryRefactor:
		return true
	}
	return false
}

// Result is a classification outcome. LLMUsage is non-nil only when the LLM
// classifier produced the answer.
type Result struct {
	Category   string    `json:"category"`
	Complexity int       `json:"complexity"`
	LLMUsage   *LLMUsage `json:"llm_usage,omitempty"`
}

// LLMUsage tracks what the LLM classifier itself consumed, so analytics can
// separate classification spend from task spend.
type LLMUsage struct {
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// categoryRule pairs a category with the pattern that claims it. Rules are
// evaluated in order; the first match wins.
type categoryRule struct {
	category string
	pattern  *regexp.Regexp
}

var categoryRules = []categoryRule{
	{CategoryCodeReview, regexp.MustCompile(`(?i)\b(review|critique|audit)\b.*\b(code|pr|pull request|diff|change)`)},
	{CategoryDebug, regexp.MustCompile(`(?i)\b(debug|fix|bug|error|crash|broken|fails?|failing|exception|traceback|stack trace|segfault|panic)\b|not working|doesn't work`)},
	{CategoryRefactor, regexp.MustCompile(`(?i)\b(refactor|restructure|rewrite|simplify|clean up|cleanup|optimi[sz]e|modulari[sz]e)\b`)},
	{CategoryCodeGen, regexp.MustCompile(`(?i)\b(write|create|implement|generate|build|add|make)\b.*\b(function|method|class|struct|module|script|program|test|endpoint|api|component|parser|handler|code)\b`)},
	{CategoryExplain, regexp.MustCompile(`(?i)\b(explain|describe|walk me through|understand)\b|what (does|do|is) .* (do|mean|work)|how (does|do) .* work`)},
	{CategorySimpleQA, regexp.MustCompile(`(?i)^(what|who|when|where|which|is|are|does|do|can|should)\b|\b(define|definition of|meaning of)\b`)},
}

var complexKeywords = regexp.MustCompile(`(?i)\b(architecture|distributed|concurren\w*|scalab\w*|algorithm|performance|security|transaction\w*|microservice\w*|consensus|migration|protocol)\b`)

var simpleKeywords = regexp.MustCompile(`(?i)\b(briefly|one.line|one.word|yes or no|quick question|simple question|tl;?dr)\b`)

var refusalPhrases = []string{
	"i can't", "i cannot", "i'm unable", "i am unable",
	"i won't", "i'm not able", "i am not able",
}

// HasRefusal reports whether the text opens into a refusal phrase anywhere.
func HasRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// lastUserText returns the text of the final user message, or "".
func lastUserText(messages []relaymodel.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].StringContent()
		}
	}
	return ""
}

func fullText(messages []relaymodel.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.StringContent())
		b.WriteString("\n")
	}
	return b.String()
}

// sysLooksToolHeavy guesses whether a long system prompt is mostly tool
// definitions rather than task instructions.
func sysLooksToolHeavy(system string) bool {
	lower := strings.ToLower(system)
	return strings.Count(lower, "tool") >= 4 ||
		strings.Contains(lower, `"parameters"`) ||
		strings.Contains(lower, "<tools>")
}

// Heuristic classifies without any network call. Deterministic: the same
// message list always yields the same result.
func Heuristic(messages []relaymodel.Message, system string) Result {
	last := lastUserText(messages)
	full := fullText(messages)

	category := CategoryOther
	matched := false
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(last) {
			category = rule.category
			matched = true
			break
		}
	}
	if !matched && len(last) < 200 && !strings.Contains(last, "```") {
		category = CategorySimpleQA
	}

	return Result{
		Category:   category,
		Complexity: heuristicComplexity(messages, system, last, full),
	}
}

func heuristicComplexity(messages []relaymodel.Message, system, last, full string) int {
	score := 10.0

	if v := float64(len(last)) / 4 / 200; v < 15 {
		score += v
	} else {
		score += 15
	}

	codeBlocks := strings.Count(full, "```") / 2
	if v := float64(codeBlocks * 3); v < 15 {
		score += v
	} else {
		score += 15
	}

	score += float64(len(complexKeywords.FindAllString(full, -1))) * 8
	score -= float64(len(simpleKeywords.FindAllString(last, -1))) * 8

	switch {
	case len(last) < 50:
		score -= 15
	case len(last) < 150:
		score -= 5
	}

	userTurns := 0
	for _, m := range messages {
		if m.Role == "user" {
			userTurns++
		}
	}
	if userTurns > 5 {
		userTurns = 5
	}
	score += float64(userTurns)

	if len(system) > 200 && !sysLooksToolHeavy(system) {
		score += 5
	}

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return int(score)
}
