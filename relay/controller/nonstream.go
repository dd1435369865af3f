package controller

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/monitor"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	"github.com/cheaprelay/cheaprelay/relay/cache"
	"github.com/cheaprelay/cheaprelay/relay/evaluate"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// relayComplete runs the non-streaming dispatch, evaluation, persistence, and
// response stages.
func (p *Pipeline) relayComplete(c *gin.Context, st *requestState, adapter adaptor.Adaptor,
	req *adaptor.Request, cacheKey string) {

	stageStart := time.Now()
	model.LogStep(st.requestID, model.StepProviderDispatch, model.StepStatusStarted, 0, gin.H{
		"provider": st.decision.Provider, "model": st.decision.Model,
	})

	taskID := helper.GenRequestID()
	p.Activity.Register(taskID, st.decision.Provider, st.decision.Model,
		st.decision.Category, st.preview, st.comp.TokensAfter)

	resp, err := adapter.Complete(c.Request.Context(), req)
	if err != nil {
		p.Activity.Remove(taskID)
		model.LogStep(st.requestID, model.StepProviderDispatch, model.StepStatusError,
			time.Since(stageStart), err.Error())
		p.persistFailedTask(st, err.Error())
		respondError(c, st, newServerError(http.StatusInternalServerError, "provider_error",
			err.Error()), model.RequestStatusError)
		return
	}
	model.LogStep(st.requestID, model.StepProviderDone, model.StepStatusCompleted,
		time.Since(stageStart), gin.H{"tokens_in": resp.TokensIn, "tokens_out": resp.TokensOut})
	p.logDispatchMode(st)

	if len(resp.ToolCalls) > 0 {
		model.LogStep(st.requestID, model.StepToolParse, model.StepStatusCompleted, 0,
			gin.H{"tool_calls": len(resp.ToolCalls)})
	}

	// Stage 11: evaluate.
	_, score := evaluate.Score(resp.Text, true, st.decision.Category, st.decision.Complexity)

	// Stage 12: persist task.
	task := p.buildTask(st, taskID, resp, true, score, p.dispatchMode(st))
	task.Insert()
	model.LogStep(st.requestID, model.StepLogTask, model.StepStatusCompleted, 0, gin.H{"task_id": task.ID})
	p.Activity.Complete(taskID, resp.TokensIn, resp.TokensOut)

	// Stage 13: respond, then cache for identical retries.
	p.Cache.Put(cacheKey, &cache.Entry{
		Text:         resp.Text,
		ToolCalls:    resp.ToolCalls,
		TokensIn:     resp.TokensIn,
		TokensOut:    resp.TokensOut,
		FinishReason: resp.FinishReason,
		Provider:     st.decision.Provider,
		Model:        st.decision.Model,
	})

	c.Header("x-task-id", task.ID)
	c.JSON(http.StatusOK, textResponse(st, resp.Text, resp.ToolCalls, resp.FinishReason, resp.TokensIn, resp.TokensOut))
	model.LogStep(st.requestID, model.StepResponseSent, model.StepStatusCompleted, st.elapsed(), nil)
	st.reqLog.Finalize(model.RequestStatusCompleted, http.StatusOK, "")
	monitor.RecordDispatch(st.decision.Provider, st.decision.Model, resp.CostUSD, st.comp.TokensSaved())
	monitor.RecordRequest(model.RequestStatusCompleted, st.elapsed())
}

// respondCached serves a cache hit: zero cost, no budget consumption, but a
// task record is still written so analytics stay continuous.
func (p *Pipeline) respondCached(c *gin.Context, st *requestState, entry *cache.Entry) {
	task := &model.TaskLog{
		ID:             helper.GenRequestID(),
		RequestID:      st.requestID,
		CreatedAt:      time.Now(),
		Category:       st.decision.Category,
		Complexity:     st.decision.Complexity,
		PromptSummary:  helper.TruncateString(st.preview, 200),
		MessageCount:   len(st.payload.Messages),
		RequestedModel: st.requested,
		ProviderID:     entry.Provider,
		ModelID:        entry.Model,
		RouterReason:   st.decision.Reason,
		// No upstream call happened; the task records zero consumption.
		TokensIn:  0,
		TokensOut: 0,
		CostUSD:   0,
		LatencyMs:      st.elapsed().Milliseconds(),
		CacheHit:       true,
		CLISuccess:     true,
		Prompt:         helper.TruncateString(st.lastUser, 4000),
		Response:       helper.TruncateString(entry.Text, 4000),
	}
	task.Insert()
	model.LogStep(st.requestID, model.StepLogTask, model.StepStatusCompleted, 0,
		gin.H{"task_id": task.ID, "cache_hit": true})

	setRoutingHeaders(c, st)
	c.Header("x-cache-hit", "true")
	c.Header("x-task-id", task.ID)
	c.JSON(http.StatusOK, textResponse(st, entry.Text, entry.ToolCalls, entry.FinishReason,
		entry.TokensIn, entry.TokensOut))
	model.LogStep(st.requestID, model.StepResponseSent, model.StepStatusCompleted, st.elapsed(), "cached")
	st.reqLog.Finalize(model.RequestStatusCached, http.StatusOK, "")
	monitor.RecordCacheHit()
	monitor.RecordRequest(model.RequestStatusCached, st.elapsed())
}

func textResponse(st *requestState, text string, toolCalls []relaymodel.ToolCall,
	finishReason string, tokensIn, tokensOut int) *relaymodel.TextResponse {

	if finishReason == "" {
		finishReason = relaymodel.FinishReasonStop
	}
	return &relaymodel.TextResponse{
		ID:      "chatcmpl-" + helper.GenRequestID()[:24],
		Object:  "chat.completion",
		Created: helper.GetTimestamp(),
		Model:   clientModel(st),
		Choices: []relaymodel.TextResponseChoice{{
			Message: relaymodel.Message{
				Role:      "assistant",
				Content:   text,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: relaymodel.Usage{
			PromptTokens:     tokensIn,
			CompletionTokens: tokensOut,
			TotalTokens:      tokensIn + tokensOut,
		},
	}
}

// buildTask assembles the task row from the accumulated pipeline state.
func (p *Pipeline) buildTask(st *requestState, taskID string, resp *adaptor.Response,
	cliSuccess bool, score int, dispatchMode string) *model.TaskLog {

	remaining := st.verdict.Remaining
	if math.IsInf(remaining, 1) {
		remaining = -1 // no budget configured
	}
	return &model.TaskLog{
		ID:              taskID,
		RequestID:       st.requestID,
		CreatedAt:       time.Now(),
		Category:        st.decision.Category,
		Complexity:      st.decision.Complexity,
		PromptSummary:   helper.TruncateString(st.preview, 200),
		MessageCount:    len(st.payload.Messages),
		RequestedModel:  st.requested,
		ProviderID:      st.decision.Provider,
		ModelID:         st.decision.Model,
		RouterReason:    st.decision.Reason,
		TokensIn:        resp.TokensIn,
		TokensOut:       resp.TokensOut,
		CostUSD:         resp.CostUSD,
		LatencyMs:       st.elapsed().Milliseconds(),
		Streaming:       st.payload.Stream,
		TokensBefore:    st.comp.TokensBefore,
		TokensAfter:     st.comp.TokensAfter,
		RemainingBudget: remaining,
		DispatchMode:    dispatchMode,
		CLISuccess:      cliSuccess,
		HeuristicScore:  score,
		Prompt:          helper.TruncateString(st.lastUser, 4000),
		Response:        helper.TruncateString(resp.Text, 4000),
	}
}

// dispatchMode reports the subprocess dispatch mode when the request went
// through the CLI provider.
func (p *Pipeline) dispatchMode(st *requestState) string {
	if st.decision.Provider != "claude-cli" {
		return ""
	}
	if cli := p.Registry.ClaudeCLI(); cli != nil {
		return cli.LastDispatchMode()
	}
	return ""
}

func (p *Pipeline) logDispatchMode(st *requestState) {
	if mode := p.dispatchMode(st); mode != "" {
		model.LogStep(st.requestID, model.StepWarmPoolDispatch, model.StepStatusCompleted, 0,
			gin.H{"mode": mode})
	}
}
