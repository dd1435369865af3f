package claudecli

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/common/tokenizer"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// Adaptor dispatches through the claude binary.
type Adaptor struct {
	adaptor.Base

	pool *warmPool

	pinnedMu    sync.Mutex
	pinned      *process
	pinnedModel string

	modeMu   sync.Mutex
	lastMode string
}

// NewAdaptor builds the subprocess adapter. The warm pool starts empty;
// call StartWarmPool once the catalog is known.
func NewAdaptor(providerID string, _ model.ProviderConfig) *Adaptor {
	return &Adaptor{
		Base: adaptor.Base{Provider: providerID},
		pool: newWarmPool(),
	}
}

// StartWarmPool pre-spawns one process per enabled model of this provider.
func (a *Adaptor) StartWarmPool() {
	a.pool.Prewarm(a.CatalogModels())
}

// Shutdown stops the warm pool and the pinned process.
func (a *Adaptor) Shutdown() {
	a.pool.Stop()

	a.pinnedMu.Lock()
	if a.pinned != nil {
		a.pinned.Kill()
		a.pinned = nil
	}
	a.pinnedMu.Unlock()
}

// IsAvailable reports whether the claude binary is on PATH.
func (a *Adaptor) IsAvailable() bool {
	_, err := exec.LookPath(config.ClaudeCLIPath)
	return err == nil
}

func (a *Adaptor) GetModels() []string { return a.CatalogModels() }

// LastDispatchMode returns how the most recent request was served, so the
// pipeline can surface it in step records and response headers.
func (a *Adaptor) LastDispatchMode() string {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.lastMode
}

func (a *Adaptor) setLastMode(mode string) {
	a.modeMu.Lock()
	a.lastMode = mode
	a.modeMu.Unlock()
}

// fullConversation folds the system prompt into the digest view so context
// discipline covers it like any other turn.
func fullConversation(req *adaptor.Request) []relaymodel.Message {
	if req.System == "" {
		return req.Messages
	}
	out := make([]relaymodel.Message, 0, len(req.Messages)+1)
	out = append(out, relaymodel.Message{Role: "system", Content: req.System})
	out = append(out, req.Messages...)
	return out
}

// renderDigest turns a context-log entry into stdin text. The CLI only
// accepts user turns, so non-user history is labeled inline.
func renderDigest(d messageDigest) string {
	switch d.Role {
	case "user":
		return d.Content
	case "system":
		return "System instructions for this conversation:\n" + d.Content
	default:
		return "(" + d.Role + " said earlier)\n" + d.Content
	}
}

// flatten renders the whole conversation into a single user turn for
// ephemeral dispatch, which has no context to reuse.
func flatten(digests []messageDigest) string {
	if len(digests) == 1 {
		return renderDigest(digests[0])
	}
	var b strings.Builder
	for i, d := range digests {
		if i == len(digests)-1 {
			b.WriteString(renderDigest(d))
			break
		}
		b.WriteString(renderDigest(d))
		b.WriteString("\n\n")
	}
	return b.String()
}

// dispatch runs one exchange through warm pool, pinned, or ephemeral mode,
// in that order of preference. onEvent observes every NDJSON event of the
// final exchange (backfill responses are consumed and discarded).
func (a *Adaptor) dispatch(ctx context.Context, req *adaptor.Request,
	onEvent func(ev *streamEvent)) (*streamEvent, string, error) {

	digests := digestMessages(fullConversation(req))
	if len(digests) == 0 {
		return nil, "", errors.New("empty conversation")
	}

	if result, err := a.dispatchWarm(ctx, req.Model, digests, onEvent); err == nil {
		a.setLastMode(model.DispatchModeWarm)
		return result, model.DispatchModeWarm, nil
	} else {
		logger.Logger.Warn("warm dispatch failed, falling through",
			zap.String("model", req.Model), zap.Error(err))
	}

	if pinned := config.PinnedModel(); pinned != "" && pinned == req.Model {
		if result, err := a.dispatchPinned(ctx, req.Model, digests, onEvent); err == nil {
			a.setLastMode(model.DispatchModePinned)
			return result, model.DispatchModePinned, nil
		} else {
			logger.Logger.Warn("pinned dispatch failed, falling through",
				zap.String("model", req.Model), zap.Error(err))
		}
	}

	result, err := a.dispatchEphemeral(ctx, req.Model, digests, onEvent)
	if err != nil {
		return nil, "", err
	}
	a.setLastMode(model.DispatchModeEphemeral)
	return result, model.DispatchModeEphemeral, nil
}

// dispatchWarm reuses a pooled process. The longest common prefix between
// the process's context log and the conversation is skipped; the remaining
// history minus the final user turn is backfilled one message at a time,
// each awaited to its result event with the response discarded.
func (a *Adaptor) dispatchWarm(ctx context.Context, modelID string,
	digests []messageDigest, onEvent func(ev *streamEvent)) (*streamEvent, error) {

	proc := a.pool.Get(modelID)
	if proc == nil {
		return nil, errors.New("warm pool stopped")
	}
	if err := proc.Acquire(); err != nil {
		return nil, errors.Wrap(err, "acquire warm process")
	}
	defer proc.Release()

	backfill, final := backfillDelta(proc.contextLog, digests)
	for _, d := range backfill {
		if ctx.Err() != nil {
			// Client is gone mid-backfill; the process context is still
			// consistent up to what was sent, so record that and stop.
			return nil, errors.Wrap(ctx.Err(), "warm backfill canceled")
		}
		if _, err := proc.Send(renderDigest(d), nil); err != nil {
			return nil, errors.Wrap(err, "warm backfill")
		}
		proc.contextLog = append(proc.contextLog, d)
	}

	result, err := proc.Send(renderDigest(final), onEvent)
	if err != nil {
		return nil, errors.Wrap(err, "warm dispatch")
	}
	// The process has now observed the whole conversation.
	proc.contextLog = append([]messageDigest(nil), digests...)
	return result, nil
}

// dispatchPinned uses the single long-lived pinned process, respawning when
// the pinned model changed. No context tracking: every exchange replays the
// flattened conversation.
func (a *Adaptor) dispatchPinned(ctx context.Context, modelID string,
	digests []messageDigest, onEvent func(ev *streamEvent)) (*streamEvent, error) {

	a.pinnedMu.Lock()
	if a.pinned == nil || a.pinnedModel != modelID {
		if a.pinned != nil {
			a.pinned.Kill()
		}
		a.pinned = newProcess(modelID)
		a.pinnedModel = modelID
	}
	proc := a.pinned
	a.pinnedMu.Unlock()

	if err := proc.Acquire(); err != nil {
		return nil, errors.Wrap(err, "acquire pinned process")
	}
	defer proc.Release()

	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "pinned dispatch canceled")
	}
	result, err := proc.Send(flatten(digests), onEvent)
	return result, errors.Wrap(err, "pinned dispatch")
}

// dispatchEphemeral spawns a fresh process for this request alone and kills
// it after the result event. Client cancellation kills it immediately.
func (a *Adaptor) dispatchEphemeral(ctx context.Context, modelID string,
	digests []messageDigest, onEvent func(ev *streamEvent)) (*streamEvent, error) {

	proc := newProcess(modelID)
	if err := proc.Acquire(); err != nil {
		return nil, errors.Wrap(err, "spawn ephemeral process")
	}
	defer func() {
		proc.teardownLocked()
		proc.Release()
	}()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			proc.Interrupt()
		case <-watchDone:
		}
	}()

	result, err := proc.Send(flatten(digests), onEvent)
	return result, errors.Wrap(err, "ephemeral dispatch")
}

// Complete performs one non-streaming exchange.
func (a *Adaptor) Complete(ctx context.Context, req *adaptor.Request) (*adaptor.Response, error) {
	var (
		text    strings.Builder
		scanner toolCallScanner
	)

	result, mode, err := a.dispatch(ctx, req, func(ev *streamEvent) {
		if ev.Type != "assistant" || ev.Message == nil {
			return
		}
		for _, block := range ev.Message.Content {
			if block.Type == "text" && block.Text != "" {
				out := scanner.Feed(block.Text)
				text.WriteString(out.Text)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	tail := scanner.Flush()
	text.WriteString(tail.Text)

	out := a.buildResponse(req, result, text.String(), scanner.Calls())
	logger.Logger.Debug("claude cli completion done",
		zap.String("mode", mode), zap.Float64("cost_usd", out.CostUSD))
	return out, nil
}

func (a *Adaptor) buildResponse(req *adaptor.Request, result *streamEvent,
	text string, calls []relaymodel.ToolCall) *adaptor.Response {

	out := &adaptor.Response{
		Text:         text,
		ToolCalls:    calls,
		FinishReason: relaymodel.FinishReasonStop,
	}
	if len(calls) > 0 {
		out.FinishReason = relaymodel.FinishReasonToolCalls
	}
	if result.Usage != nil {
		out.TokensIn = result.Usage.InputTokens
		out.TokensOut = result.Usage.OutputTokens
	}
	if out.TokensOut == 0 && text != "" {
		out.TokensOut = tokenizer.EstimateTokens(text)
	}
	// The CLI reports its own spend; trust it over catalog pricing.
	if result.TotalCost > 0 {
		out.CostUSD = result.TotalCost
	} else {
		out.CostUSD = a.EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	}
	if result.IsError {
		out.FinishReason = relaymodel.FinishReasonStop
	}
	return out
}

// Stream performs one streaming exchange. Assistant events are cut into
// canonical text chunks, with inline <tool_call> literals converted to
// tool-call deltas and suppressed from the text channel.
func (a *Adaptor) Stream(ctx context.Context, req *adaptor.Request) (*adaptor.StreamResult, error) {
	events := make(chan *relaymodel.ChatCompletionsStreamResponse, 32)
	future := adaptor.NewMetadataFuture()

	go func() {
		defer close(events)

		builder := adaptor.NewChunkBuilder(req.ClientModel)
		var (
			text    strings.Builder
			scanner toolCallScanner
			toolIdx int
		)

		emit := func(chunk *relaymodel.ChatCompletionsStreamResponse) {
			if chunk == nil {
				return
			}
			select {
			case events <- chunk:
			case <-ctx.Done():
			}
		}

		emitScan := func(out scanResult) {
			if out.Text != "" {
				text.WriteString(out.Text)
				emit(builder.Text(out.Text))
			}
			for i := range out.Calls {
				idx := toolIdx
				toolIdx++
				call := out.Calls[i]
				call.Index = &idx
				emit(builder.ToolCalls([]relaymodel.ToolCall{call}))
			}
		}

		result, mode, err := a.dispatch(ctx, req, func(ev *streamEvent) {
			if ev.Type != "assistant" || ev.Message == nil {
				return
			}
			for _, block := range ev.Message.Content {
				if block.Type == "text" && block.Text != "" {
					emitScan(scanner.Feed(block.Text))
				}
			}
		})
		if err != nil {
			future.Resolve(adaptor.Metadata{
				Response:     adaptor.Response{},
				DispatchMode: a.LastDispatchMode(),
				Err:          err,
			})
			return
		}
		emitScan(scanner.Flush())

		resp := a.buildResponse(req, result, text.String(), scanner.Calls())
		usage := &relaymodel.Usage{
			PromptTokens:     resp.TokensIn,
			CompletionTokens: resp.TokensOut,
			TotalTokens:      resp.TokensIn + resp.TokensOut,
		}
		emit(builder.Finish(resp.FinishReason, usage))
		future.Resolve(adaptor.Metadata{
			Response:     *resp,
			DispatchMode: mode,
			Err:          nil,
		})
	}()

	return &adaptor.StreamResult{Events: events, Metadata: future}, nil
}
