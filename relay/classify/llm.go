package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// Completer is the single outbound call the LLM classifier needs. It is an
// adapter invoked directly, bypassing router and cache, so classification can
// never loop back into itself.
type Completer interface {
	Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error)
}

// Classifier runs heuristic classification, optionally upgraded to LLM
// classification when the runtime toggle is on and a completer is wired.
type Classifier struct {
	llm      Completer
	llmModel string
}

// New builds a classifier. llm may be nil; the classifier then always uses
// heuristics regardless of the toggle.
func New(llm Completer, llmModel string) *Classifier {
	return &Classifier{llm: llm, llmModel: llmModel}
}

const classifyPrompt = `Classify the coding task below. Respond with only a JSON object:
{"category": "<code_gen|code_review|debug|refactor|explain|simple_qa|other>", "complexity": <0-100>}`

// Classify returns (category, complexity) for the conversation. LLM failures
// of any kind fall back to the heuristic path.
func (c *Classifier) Classify(ctx context.Context, messages []relaymodel.Message, system string) Result {
	if c.llm == nil || !config.LLMClassifierEnabled() {
		return Heuristic(messages, system)
	}

	result, err := c.classifyLLM(ctx, messages, system)
	if err != nil {
		logger.Logger.Warn("llm classifier failed, using heuristic", zap.Error(err))
		return Heuristic(messages, system)
	}
	return result
}

func (c *Classifier) classifyLLM(ctx context.Context, messages []relaymodel.Message, system string) (Result, error) {
	abstract := c.buildAbstract(messages, system)

	resp, err := c.llm.Complete(ctx, &adaptor.Request{
		Model:       c.llmModel,
		ClientModel: c.llmModel,
		System:      classifyPrompt,
		Messages: []relaymodel.Message{
			{Role: "user", Content: abstract},
		},
		MaxTokens: 128,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "llm classify call")
	}

	parsed, err := parseClassification(resp.Text)
	if err != nil {
		return Result{}, errors.Wrap(err, "parse llm classification")
	}
	parsed.LLMUsage = &LLMUsage{
		Model:     c.llmModel,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   resp.CostUSD,
	}
	return parsed, nil
}

// buildAbstract condenses the conversation into a compact description so the
// classifier call stays cheap regardless of prompt size.
func (c *Classifier) buildAbstract(messages []relaymodel.Message, system string) string {
	last := helper.TruncateString(lastUserText(messages), 400)

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", last)
	fmt.Fprintf(&b, "Conversation: %d messages\n", len(messages))
	if sysLooksToolHeavy(system) {
		b.WriteString("Context: tool definitions present\n")
	}
	return b.String()
}

// parseClassification extracts the first JSON object from the model's reply.
func parseClassification(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Result{}, errors.New("no JSON object in classifier response")
	}

	var payload struct {
		Category   string `json:"category"`
		Complexity int    `json:"complexity"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Result{}, errors.Wrap(err, "unmarshal classifier response")
	}

	switch payload.Category {
	case CategoryCodeGen, CategoryCodeReview, CategoryDebug,
		CategoryRefactor, CategoryExplain, CategorySimpleQA, CategoryOther:
	default:
		return Result{}, errors.Errorf("unknown category %q", payload.Category)
	}
	if payload.Complexity < 0 {
		payload.Complexity = 0
	}
	if payload.Complexity > 100 {
		payload.Complexity = 100
	}
	return Result{Category: payload.Category, Complexity: payload.Complexity}, nil
}
