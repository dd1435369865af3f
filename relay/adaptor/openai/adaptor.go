// Package openai dispatches to the OpenAI chat-completions API. Its wire
// format is already the canonical one, so the stream transformer is mostly a
// pass-through with id/model rewriting and usage accounting.
package openai

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

// Adaptor serves the OpenAI API (and is embedded by the generic
// OpenAI-compatible adapter).
type Adaptor struct {
	adaptor.Base
	apiKey  string
	baseURL string
}

// NewAdaptor builds the adapter from provider config, falling back to the
// OPENAI_API_KEY environment variable.
func NewAdaptor(providerID string, cfg model.ProviderConfig) *Adaptor {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Adaptor{
		Base:    adaptor.Base{Provider: providerID},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

// NewCompatibleAdaptor builds an adapter for any OpenAI-compatible upstream.
// Responses are passed through with a model-name rewrite so clients always
// see one stable model string.
func NewCompatibleAdaptor(providerID string, cfg model.ProviderConfig) *Adaptor {
	a := NewAdaptor(providerID, cfg)
	if cfg.BaseURL == "" {
		a.baseURL = ""
	}
	return a
}

func (a *Adaptor) IsAvailable() bool {
	return a.apiKey != "" && a.baseURL != ""
}

func (a *Adaptor) GetModels() []string {
	return a.CatalogModels()
}

// payload builds the upstream request body.
func (a *Adaptor) payload(req *adaptor.Request, stream bool) map[string]any {
	messages := make([]relaymodel.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, relaymodel.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		if req.ToolChoice != nil {
			body["tool_choice"] = req.ToolChoice
		}
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func (a *Adaptor) post(ctx context.Context, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := client.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, adaptor.NewProviderError(adaptor.ErrKindTransport, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, adaptor.NewProviderError(adaptor.KindForStatus(resp.StatusCode), upstreamErrorMessage(resp))
	}
	return resp, nil
}

// upstreamErrorMessage extracts the error message from a failed upstream
// response, falling back to the raw body excerpt.
func upstreamErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.Status
	}
	var envelope struct {
		Error relaymodel.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return resp.Status + ": " + string(body)
}

// Complete performs one non-streaming call.
func (a *Adaptor) Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error) {
	resp, err := a.post(ctx, a.payload(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var text relaymodel.TextResponse
	if err := json.NewDecoder(resp.Body).Decode(&text); err != nil {
		return nil, errors.Wrap(err, "decode upstream response")
	}
	if len(text.Choices) == 0 {
		return nil, adaptor.NewProviderError(adaptor.ErrKindTransport, "upstream returned no choices")
	}

	choice := text.Choices[0]
	out := &adaptor.Response{
		Text:         choice.Message.StringContent(),
		ToolCalls:    choice.Message.ToolCalls,
		TokensIn:     text.Usage.PromptTokens,
		TokensOut:    text.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}
	if out.TokensOut == 0 && out.Text != "" {
		out.TokensOut = tokenizer.EstimateTokens(out.Text)
	}
	out.CostUSD = a.EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	return out, nil
}

// Stream performs one streaming call. The upstream SSE chunks are reshaped
// onto a fresh chunk id and the stable client-facing model string; usage and
// text are accumulated for the metadata future.
func (a *Adaptor) Stream(ctx context.Context, req *adaptor.Request) (*adaptor.StreamResult, error) {
	resp, err := a.post(ctx, a.payload(req, true))
	if err != nil {
		return nil, err
	}

	events := make(chan *relaymodel.ChatCompletionsStreamResponse, 32)
	future := adaptor.NewMetadataFuture()
	go a.transform(resp, req, events, future)

	return &adaptor.StreamResult{Events: events, Metadata: future}, nil
}

// transform runs the OpenAI SSE stream transformer. Malformed events are
// skipped; the metadata future resolves exactly once on terminal event or
// flush.
func (a *Adaptor) transform(resp *http.Response, req *adaptor.Request,
	events chan<- *relaymodel.ChatCompletionsStreamResponse, future *adaptor.MetadataFuture) {
	defer close(events)
	defer func() { _ = resp.Body.Close() }()

	builder := adaptor.NewChunkBuilder(req.ClientModel)
	var (
		text         strings.Builder
		toolCalls    adaptor.ToolCallAccumulator
		usage        relaymodel.Usage
		finishReason string
	)

	finalize := func(streamErr error) {
		if usage.PromptTokens == 0 {
			usage.PromptTokens = estimateRequestTokens(req)
		}
		if usage.CompletionTokens == 0 {
			usage.CompletionTokens = tokenizer.EstimateTokens(text.String())
		}
		future.Resolve(adaptor.Metadata{
			Response: adaptor.Response{
				Text:         text.String(),
				ToolCalls:    toolCalls.Calls(),
				TokensIn:     usage.PromptTokens,
				TokensOut:    usage.CompletionTokens,
				CostUSD:      a.EstimateCost(req.Model, usage.PromptTokens, usage.CompletionTokens),
				FinishReason: finishReason,
			},
			Err: streamErr,
		})
	}

	err := adaptor.ScanSSE(resp.Body, func(data string) bool {
		if data == "[DONE]" {
			return false
		}

		var chunk relaymodel.ChatCompletionsStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Tolerate malformed events; the rest of the stream is intact.
			return true
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if out := builder.Text(choice.Delta.Content); out != nil {
					events <- out
				}
			}
			if len(choice.Delta.ToolCalls) > 0 {
				toolCalls.Add(choice.Delta.ToolCalls)
				events <- builder.ToolCalls(choice.Delta.ToolCalls)
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}
		return true
	})

	events <- builder.Finish(finishReason, &usage)
	finalize(err)
}

func estimateRequestTokens(req *adaptor.Request) int {
	total := tokenizer.EstimateTokens(req.System)
	for _, msg := range req.Messages {
		total += tokenizer.EstimateTokens(msg.StringContent()) + 4
	}
	return total
}
