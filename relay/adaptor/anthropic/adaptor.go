// Package anthropic dispatches to the Anthropic Messages API and transforms
// its event-typed SSE stream into canonical chunks.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/cheaprelay/cheaprelay/common/client"
	"github.com/cheaprelay/cheaprelay/common/tokenizer"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adaptor serves the Anthropic Messages API.
type Adaptor struct {
	adaptor.Base
	apiKey  string
	baseURL string
}

// NewAdaptor builds the adapter from provider config, falling back to the
// ANTHROPIC_API_KEY environment variable.
func NewAdaptor(providerID string, cfg model.ProviderConfig) *Adaptor {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adaptor{
		Base:    adaptor.Base{Provider: providerID},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

func (a *Adaptor) IsAvailable() bool { return a.apiKey != "" }

func (a *Adaptor) GetModels() []string { return a.CatalogModels() }

// ConvertRequest maps the provider-neutral request onto the Messages API
// shape. Tool-role turns are flattened into user turns carrying the tool
// result text, which is what the Messages API expects from converted
// OpenAI-style conversations.
func ConvertRequest(req *adaptor.Request, stream bool) *Request {
	out := &Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Stream:    stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if out.System == "" {
				out.System = msg.StringContent()
			} else {
				out.System += "\n\n" + msg.StringContent()
			}
		case "tool":
			out.Messages = append(out.Messages, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: "Tool result:\n" + msg.StringContent()}},
			})
		default:
			content := []ContentBlock{{Type: "text", Text: msg.StringContent()}}
			for _, call := range msg.ToolCalls {
				var input json.RawMessage
				if call.Function.Arguments != "" {
					input = json.RawMessage(call.Function.Arguments)
				}
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
			out.Messages = append(out.Messages, Message{Role: msg.Role, Content: content})
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	return out
}

func (a *Adaptor) post(ctx context.Context, body *Request) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal anthropic request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build anthropic request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := client.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, adaptor.NewProviderError(adaptor.ErrKindTransport, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := resp.Status
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return nil, adaptor.NewProviderError(adaptor.KindForStatus(resp.StatusCode), msg)
	}
	return resp, nil
}

// Complete performs one non-streaming Messages call.
func (a *Adaptor) Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error) {
	resp, err := a.post(ctx, ConvertRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var native Response
	if err := json.NewDecoder(resp.Body).Decode(&native); err != nil {
		return nil, errors.Wrap(err, "decode anthropic response")
	}

	var text strings.Builder
	var toolCalls []relaymodel.ToolCall
	for _, block := range native.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, relaymodel.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: relaymodel.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	out := &adaptor.Response{
		Text:         text.String(),
		ToolCalls:    toolCalls,
		TokensIn:     native.Usage.InputTokens,
		TokensOut:    native.Usage.OutputTokens,
		FinishReason: ConvertStopReason(native.StopReason),
	}
	if out.TokensOut == 0 && out.Text != "" {
		out.TokensOut = tokenizer.EstimateTokens(out.Text)
	}
	out.CostUSD = a.EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	return out, nil
}

// Stream performs one streaming Messages call.
func (a *Adaptor) Stream(ctx context.Context, req *adaptor.Request) (*adaptor.StreamResult, error) {
	resp, err := a.post(ctx, ConvertRequest(req, true))
	if err != nil {
		return nil, err
	}

	events := make(chan *relaymodel.ChatCompletionsStreamResponse, 32)
	future := adaptor.NewMetadataFuture()
	go a.transform(resp, req, events, future)

	return &adaptor.StreamResult{Events: events, Metadata: future}, nil
}

// transform normalizes the event-typed Anthropic SSE stream. The stream
// interleaves `event:` and `data:` records; only the data payloads matter
// since every payload repeats its type.
func (a *Adaptor) transform(resp *http.Response, req *adaptor.Request,
	events chan<- *relaymodel.ChatCompletionsStreamResponse, future *adaptor.MetadataFuture) {
	defer close(events)
	defer func() { _ = resp.Body.Close() }()

	builder := adaptor.NewChunkBuilder(req.ClientModel)
	var (
		text         strings.Builder
		usage        relaymodel.Usage
		finishReason string
		toolCalls    []relaymodel.ToolCall
		// blockTools maps a content-block index to its slot in toolCalls so
		// input_json_delta fragments land on the right call.
		blockTools = map[int]int{}
	)

	err := adaptor.ScanSSE(resp.Body, func(data string) bool {
		var event StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return true // skip malformed event
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				blockTools[event.Index] = idx
				toolCalls = append(toolCalls, relaymodel.ToolCall{
					ID:       event.ContentBlock.ID,
					Type:     "function",
					Function: relaymodel.FunctionCall{Name: event.ContentBlock.Name},
				})
				callIdx := idx
				events <- builder.ToolCalls([]relaymodel.ToolCall{{
					Index:    &callIdx,
					ID:       event.ContentBlock.ID,
					Type:     "function",
					Function: relaymodel.FunctionCall{Name: event.ContentBlock.Name},
				}})
			}
		case "content_block_delta":
			if event.Delta == nil {
				return true
			}
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				if out := builder.Text(event.Delta.Text); out != nil {
					events <- out
				}
			case "input_json_delta":
				if idx, ok := blockTools[event.Index]; ok {
					toolCalls[idx].Function.Arguments += event.Delta.PartialJSON
					callIdx := idx
					events <- builder.ToolCalls([]relaymodel.ToolCall{{
						Index:    &callIdx,
						Function: relaymodel.FunctionCall{Arguments: event.Delta.PartialJSON},
					}})
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				finishReason = ConvertStopReason(event.Delta.StopReason)
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			return false
		}
		return true
	})

	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = tokenizer.EstimateTokens(text.String())
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	events <- builder.Finish(finishReason, &usage)
	future.Resolve(adaptor.Metadata{
		Response: adaptor.Response{
			Text:         text.String(),
			ToolCalls:    toolCalls,
			TokensIn:     usage.PromptTokens,
			TokensOut:    usage.CompletionTokens,
			CostUSD:      a.EstimateCost(req.Model, usage.PromptTokens, usage.CompletionTokens),
			FinishReason: finishReason,
		},
		Err: err,
	})
}

// ConvertStopReason maps Anthropic stop reasons onto canonical finish
// reasons.
func ConvertStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return relaymodel.FinishReasonLength
	case "tool_use":
		return relaymodel.FinishReasonToolCalls
	case "", "end_turn", "stop_sequence":
		return relaymodel.FinishReasonStop
	default:
		return relaymodel.FinishReasonStop
	}
}

// ResolveAlias maps tier aliases onto concrete Anthropic model ids using the
// enabled catalog: "haiku" resolves to the cheapest enabled claude-api model
// whose id contains the alias.
func (a *Adaptor) ResolveAlias(alias string) string {
	for _, id := range a.CatalogModels() {
		if strings.Contains(id, alias) {
			return id
		}
	}
	return alias
}
