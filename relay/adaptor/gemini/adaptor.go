// Package gemini dispatches to the Google Gemini generateContent API and
// transforms its SSE stream into canonical chunks.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Adaptor serves the Gemini API.
type Adaptor struct {
	adaptor.Base
	apiKey  string
	baseURL string
}

// NewAdaptor builds the adapter from provider config, falling back to the
// GEMINI_API_KEY environment variable.
func NewAdaptor(providerID string, cfg model.ProviderConfig) *Adaptor {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
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

// ConvertRequest maps the provider-neutral request onto Gemini's
// generateContent shape. Gemini has no system role; the system prompt rides
// in systemInstruction. Assistant turns become role "model".
func ConvertRequest(req *adaptor.Request) *ChatRequest {
	out := &ChatRequest{
		Contents: make([]Content, 0, len(req.Messages)),
	}
	if req.System != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: req.System}}}
	}

	for _, msg := range req.Messages {
		role := "user"
		switch msg.Role {
		case "assistant":
			role = "model"
		case "system":
			if out.SystemInstruction == nil {
				out.SystemInstruction = &Content{Parts: []Part{{Text: msg.StringContent()}}}
			} else {
				out.SystemInstruction.Parts = append(out.SystemInstruction.Parts,
					Part{Text: msg.StringContent()})
			}
			continue
		}
		out.Contents = append(out.Contents, Content{
			Role:  role,
			Parts: []Part{{Text: msg.StringContent()}},
		})
	}

	if req.Temperature != nil {
		out.GenerationConfig.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}

	if len(req.Tools) > 0 {
		decl := make([]FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl = append(decl, FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
		out.Tools = []ToolDeclaration{{FunctionDeclarations: decl}}
	}
	return out
}

func (a *Adaptor) post(ctx context.Context, modelID string, stream bool, body *ChatRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal gemini request")
	}

	action := "generateContent"
	query := ""
	if stream {
		action = "streamGenerateContent"
		query = "&alt=sse"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s%s",
		a.baseURL, modelID, action, a.apiKey, query)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build gemini request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, adaptor.NewProviderError(adaptor.ErrKindTransport, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, adaptor.NewProviderError(adaptor.KindForStatus(resp.StatusCode),
			resp.Status+": "+string(body))
	}
	return resp, nil
}

// Complete performs one non-streaming generateContent call.
func (a *Adaptor) Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error) {
	resp, err := a.post(ctx, req.Model, false, ConvertRequest(req))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var native ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&native); err != nil {
		return nil, errors.Wrap(err, "decode gemini response")
	}
	if len(native.Candidates) == 0 {
		return nil, adaptor.NewProviderError(adaptor.ErrKindTransport, "no candidates returned")
	}

	candidate := native.Candidates[0]
	var text strings.Builder
	var toolCalls []relaymodel.ToolCall
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			toolCalls = append(toolCalls, relaymodel.ToolCall{
				ID:   "call_" + part.FunctionCall.Name,
				Type: "function",
				Function: relaymodel.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}

	out := &adaptor.Response{
		Text:         text.String(),
		ToolCalls:    toolCalls,
		FinishReason: ConvertFinishReason(candidate.FinishReason, len(toolCalls) > 0),
	}
	if native.UsageMetadata != nil && native.UsageMetadata.TotalTokenCount > 0 {
		out.TokensIn = native.UsageMetadata.PromptTokenCount
		out.TokensOut = native.UsageMetadata.CandidatesTokenCount
	} else {
		// Fall back to manual calculation when usage metadata is missing
		out.TokensOut = tokenizer.EstimateTokens(out.Text)
	}
	out.CostUSD = a.EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	return out, nil
}

// Stream performs one streaming generateContent call.
func (a *Adaptor) Stream(ctx context.Context, req *adaptor.Request) (*adaptor.StreamResult, error) {
	resp, err := a.post(ctx, req.Model, true, ConvertRequest(req))
	if err != nil {
		return nil, err
	}

	events := make(chan *relaymodel.ChatCompletionsStreamResponse, 32)
	future := adaptor.NewMetadataFuture()
	go a.transform(resp, req, events, future)

	return &adaptor.StreamResult{Events: events, Metadata: future}, nil
}

func (a *Adaptor) transform(resp *http.Response, req *adaptor.Request,
	events chan<- *relaymodel.ChatCompletionsStreamResponse, future *adaptor.MetadataFuture) {
	defer close(events)
	defer func() { _ = resp.Body.Close() }()

	builder := adaptor.NewChunkBuilder(req.ClientModel)
	var (
		text         strings.Builder
		toolCalls    []relaymodel.ToolCall
		usage        relaymodel.Usage
		finishReason string
	)

	err := adaptor.ScanSSE(resp.Body, func(data string) bool {
		var native ChatResponse
		if err := json.Unmarshal([]byte(data), &native); err != nil {
			return true // skip malformed event
		}

		if native.UsageMetadata != nil && native.UsageMetadata.TotalTokenCount > 0 {
			usage.PromptTokens = native.UsageMetadata.PromptTokenCount
			usage.CompletionTokens = native.UsageMetadata.CandidatesTokenCount
		}
		if len(native.Candidates) == 0 {
			return true
		}

		candidate := native.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				if out := builder.Text(part.Text); out != nil {
					events <- out
				}
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				idx := len(toolCalls)
				call := relaymodel.ToolCall{
					Index: &idx,
					ID:    "call_" + part.FunctionCall.Name,
					Type:  "function",
					Function: relaymodel.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				}
				toolCalls = append(toolCalls, call)
				events <- builder.ToolCalls([]relaymodel.ToolCall{call})
			}
		}
		if candidate.FinishReason != "" {
			finishReason = ConvertFinishReason(candidate.FinishReason, len(toolCalls) > 0)
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

// ConvertFinishReason maps Gemini finish reasons onto canonical ones.
func ConvertFinishReason(reason string, sawToolCall bool) string {
	if sawToolCall {
		return relaymodel.FinishReasonToolCalls
	}
	switch reason {
	case "MAX_TOKENS":
		return relaymodel.FinishReasonLength
	default:
		return relaymodel.FinishReasonStop
	}
}
