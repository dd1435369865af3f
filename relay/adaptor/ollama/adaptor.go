// Package ollama dispatches to a local Ollama daemon. Its chat endpoint
// streams NDJSON rather than SSE; the transformer normalizes each line into
// canonical chunks. Local inference is free, so cost is always zero unless
// the catalog says otherwise.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/cheaprelay/cheaprelay/common/client"
	"github.com/cheaprelay/cheaprelay/common/tokenizer"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const defaultBaseURL = "http://localhost:11434"

// Adaptor serves a local Ollama daemon.
type Adaptor struct {
	adaptor.Base
	baseURL string
}

// NewAdaptor builds the adapter from provider config, falling back to the
// OLLAMA_BASE_URL environment variable.
func NewAdaptor(providerID string, cfg model.ProviderConfig) *Adaptor {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimSuffix(os.Getenv("OLLAMA_BASE_URL"), "/")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adaptor{
		Base:    adaptor.Base{Provider: providerID},
		baseURL: baseURL,
	}
}

// IsAvailable probes the daemon; a local server either answers instantly or
// is not there.
func (a *Adaptor) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.HealthCheck(ctx) == nil
}

// HealthCheck hits the daemon's version endpoint.
func (a *Adaptor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/version", nil)
	if err != nil {
		return errors.Wrap(err, "build ollama health request")
	}
	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "ollama unreachable")
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ollama health returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Adaptor) GetModels() []string { return a.CatalogModels() }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// chatResponse is one NDJSON line. The final line carries done=true plus the
// eval counters.
type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

func convertRequest(req *adaptor.Request, stream bool) *chatRequest {
	out := &chatRequest{
		Model:  req.Model,
		Stream: stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		role := msg.Role
		if role == "tool" {
			role = "user"
		}
		out.Messages = append(out.Messages, chatMessage{Role: role, Content: msg.StringContent()})
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		out.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return out
}

func (a *Adaptor) post(ctx context.Context, body *chatRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal ollama request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build ollama request")
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

// Complete performs one non-streaming chat call.
func (a *Adaptor) Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error) {
	resp, err := a.post(ctx, convertRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var native chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&native); err != nil {
		return nil, errors.Wrap(err, "decode ollama response")
	}

	out := &adaptor.Response{
		Text:         native.Message.Content,
		TokensIn:     native.PromptEvalCount,
		TokensOut:    native.EvalCount,
		FinishReason: convertDoneReason(native.DoneReason),
	}
	if out.TokensOut == 0 && out.Text != "" {
		out.TokensOut = tokenizer.EstimateTokens(out.Text)
	}
	out.CostUSD = a.EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	return out, nil
}

// Stream performs one streaming chat call over NDJSON.
func (a *Adaptor) Stream(ctx context.Context, req *adaptor.Request) (*adaptor.StreamResult, error) {
	resp, err := a.post(ctx, convertRequest(req, true))
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
		usage        relaymodel.Usage
		finishReason string
	)

	err := adaptor.ScanNDJSON(resp.Body, func(line string) bool {
		var native chatResponse
		if err := json.Unmarshal([]byte(line), &native); err != nil {
			return true // skip malformed line
		}

		if native.Message.Content != "" {
			text.WriteString(native.Message.Content)
			if out := builder.Text(native.Message.Content); out != nil {
				events <- out
			}
		}
		if native.Done {
			usage.PromptTokens = native.PromptEvalCount
			usage.CompletionTokens = native.EvalCount
			finishReason = convertDoneReason(native.DoneReason)
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
			TokensIn:     usage.PromptTokens,
			TokensOut:    usage.CompletionTokens,
			CostUSD:      a.EstimateCost(req.Model, usage.PromptTokens, usage.CompletionTokens),
			FinishReason: finishReason,
		},
		Err: err,
	})
}

func convertDoneReason(reason string) string {
	if reason == "length" {
		return relaymodel.FinishReasonLength
	}
	return relaymodel.FinishReasonStop
}
