package controller

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common"
	"github.com/cheaprelay/cheaprelay/common/ctxkey"
	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	"github.com/cheaprelay/cheaprelay/relay/budget"
	"github.com/cheaprelay/cheaprelay/relay/cache"
	"github.com/cheaprelay/cheaprelay/relay/compress"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// ChatCompletions is the main entry: POST /v1/chat/completions.
func (p *Pipeline) ChatCompletions(c *gin.Context) {
	st := &requestState{start: time.Now(), requestID: c.GetString(ctxkey.RequestID)}
	if st.requestID == "" {
		st.requestID = helper.GenRequestID()
	}
	c.Header("x-request-id", st.requestID)

	// Stage 1: parse.
	stageStart := time.Now()
	var payload relaymodel.GeneralOpenAIRequest
	if err := common.UnmarshalBodyReusable(c, &payload); err != nil {
		model.LogStep(st.requestID, model.StepParse, model.StepStatusError, time.Since(stageStart), err.Error())
		respondError(c, st, relaymodel.NewError(http.StatusBadRequest, "invalid_json",
			"request body is not valid JSON"), model.RequestStatusError)
		return
	}
	st.payload = &payload
	st.requested = payload.Model
	if st.requested == "" {
		st.requested = "auto"
	}
	st.clientName = clientNameOf(c)
	st.lastUser = lastUserText(payload.Messages)
	st.preview = previewText(payload.Messages)
	st.system, st.messages = splitSystem(payload.Messages)

	st.reqLog = &model.RequestLog{
		ID:             st.requestID,
		CreatedAt:      st.start,
		ClientName:     helper.TruncateString(st.clientName, 120),
		RequestedModel: st.requested,
		MessageCount:   len(payload.Messages),
		ToolCount:      len(payload.Tools),
		Streaming:      payload.Stream,
		PromptPreview:  helper.TruncateString(st.preview, 200),
		Status:         model.RequestStatusPending,
	}
	st.reqLog.Insert()

	if len(payload.Messages) == 0 {
		model.LogStep(st.requestID, model.StepParse, model.StepStatusError, time.Since(stageStart), "empty messages")
		respondError(c, st, relaymodel.NewError(http.StatusBadRequest, "invalid_messages",
			"messages must be a non-empty array"), model.RequestStatusError)
		return
	}
	st.reqLog.MarkProcessing()
	model.LogStep(st.requestID, model.StepParse, model.StepStatusCompleted, time.Since(stageStart), gin.H{
		"model":       st.requested,
		"messages":    len(payload.Messages),
		"tools":       len(payload.Tools),
		"tool_choice": payload.ResolvedToolChoice(),
		"streaming":   payload.Stream,
	})

	// Stage 2: feedback short-circuit.
	if strings.HasPrefix(strings.TrimSpace(st.lastUser), "/feedback") {
		if p.handleFeedback(c, st) {
			return
		}
	}

	// Stage 3: dedup guard, non-streaming only.
	if !payload.Stream {
		stageStart = time.Now()
		if p.Cache.CheckDedup(cache.DedupKey(st.lastUser)) {
			model.LogStep(st.requestID, model.StepDedup, model.StepStatusCompleted, time.Since(stageStart), "duplicate")
			respondError(c, st, relaymodel.NewError(http.StatusTooManyRequests, "duplicate_request",
				"identical request received within the dedup window"), model.RequestStatusDeduped)
			return
		}
		model.LogStep(st.requestID, model.StepDedup, model.StepStatusCompleted, time.Since(stageStart), nil)
	} else {
		model.LogStep(st.requestID, model.StepDedup, model.StepStatusSkipped, 0, "streaming request")
	}

	// Stage 4: classify and route.
	stageStart = time.Now()
	st.decision = p.Router.Decide(c.Request.Context(), st.requested, st.messages, st.system)
	model.LogStep(st.requestID, model.StepClassify, model.StepStatusCompleted, time.Since(stageStart), gin.H{
		"category":   st.decision.Category,
		"complexity": st.decision.Complexity,
		"llm_usage":  st.decision.ClassifierUsage,
	})
	model.LogStep(st.requestID, model.StepRoute, model.StepStatusCompleted, time.Since(stageStart), st.decision)

	// Stage 5: agentic clients embed an XML tool protocol the cheap model
	// fails on; force at least sonnet for them.
	if isAgenticClient(st.clientName) && claudeAliasOf(st.decision) == "haiku" {
		if switchClaudeModel(st.decision, "sonnet") {
			model.LogStep(st.requestID, model.StepRoute, model.StepStatusCompleted, 0,
				"upgraded haiku->sonnet (agentic client)")
		}
	}

	// Stage 6: budget guard.
	stageStart = time.Now()
	st.verdict = budget.Check(time.Now())
	budgetDetail := gin.H{"allowed": st.verdict.Allowed, "downgrade": st.verdict.Downgrade, "reason": st.verdict.Reason}
	if !math.IsInf(st.verdict.Remaining, 1) {
		budgetDetail["remaining"] = st.verdict.Remaining
	}
	model.LogStep(st.requestID, model.StepBudgetCheck, model.StepStatusCompleted, time.Since(stageStart), budgetDetail)
	if !st.verdict.Allowed {
		respondError(c, st, relaymodel.NewError(http.StatusTooManyRequests, "budget_exceeded",
			st.verdict.Reason), model.RequestStatusError)
		return
	}
	if st.verdict.Downgrade {
		if alias := claudeAliasOf(st.decision); alias != "" {
			if next := budget.DowngradeModel(alias); next != alias {
				switchClaudeModel(st.decision, next)
				st.decision.Reason += "; downgraded (" + st.verdict.Reason + ")"
			}
		}
	}

	// Stage 7: cache lookup, non-streaming only.
	cacheKey := cache.ResponseKey(st.decision.Provider, st.decision.Model, st.system, st.messages)
	if !payload.Stream {
		stageStart = time.Now()
		if entry, ok := p.Cache.Get(cacheKey); ok {
			model.LogStep(st.requestID, model.StepCacheCheck, model.StepStatusCompleted, time.Since(stageStart), "hit")
			p.respondCached(c, st, entry)
			return
		}
		model.LogStep(st.requestID, model.StepCacheCheck, model.StepStatusCompleted, time.Since(stageStart), "miss")
	} else {
		model.LogStep(st.requestID, model.StepCacheCheck, model.StepStatusSkipped, 0, "streaming request")
	}

	// Stage 8: compress.
	stageStart = time.Now()
	st.comp = compress.Run(st.messages)
	model.LogStep(st.requestID, model.StepCompress, model.StepStatusCompleted, time.Since(stageStart), st.comp)

	// Stage 9: provider dispatch.
	adapter, ok := p.Registry.Get(st.decision.Provider)
	if !ok {
		model.LogStep(st.requestID, model.StepProviderDispatch, model.StepStatusError, 0,
			"no adapter for "+st.decision.Provider)
		p.persistFailedTask(st, "provider unavailable: "+st.decision.Provider)
		respondError(c, st, newServerError(http.StatusInternalServerError, "provider_unavailable",
			"provider "+st.decision.Provider+" is not available"), model.RequestStatusError)
		return
	}

	req := &adaptor.Request{
		Model:       st.decision.Model,
		Messages:    st.comp.Messages,
		System:      st.system,
		Stream:      payload.Stream,
		Tools:       payload.Tools,
		ToolChoice:  payload.ToolChoice,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
		ClientModel: clientModel(st),
	}

	setRoutingHeaders(c, st)
	if payload.Stream {
		p.relayStream(c, st, adapter, req)
		return
	}
	p.relayComplete(c, st, adapter, req, cacheKey)
}

func clientModel(st *requestState) string {
	if st.decision.Alias != "" {
		return st.decision.Alias
	}
	return st.decision.Model
}

func newServerError(statusCode int, code, message string) *relaymodel.ErrorWithStatusCode {
	return &relaymodel.ErrorWithStatusCode{
		StatusCode: statusCode,
		Error: relaymodel.Error{
			Message: message,
			Type:    relaymodel.ErrorTypeServer,
			Code:    code,
		},
	}
}

func setRoutingHeaders(c *gin.Context, st *requestState) {
	c.Header("x-provider", st.decision.Provider)
	c.Header("x-model", st.decision.Provider+"/"+st.decision.Model)
	c.Header("x-router-reason", st.decision.Reason)
	c.Header("x-tokens-saved", strconv.Itoa(st.comp.TokensSaved()))
	c.Header("x-cache-hit", "false")
}

// persistFailedTask records an unsuccessful dispatch so router history sees
// the failure.
func (p *Pipeline) persistFailedTask(st *requestState, errMsg string) {
	task := &model.TaskLog{
		ID:             helper.GenRequestID(),
		RequestID:      st.requestID,
		CreatedAt:      time.Now(),
		Category:       st.decision.Category,
		Complexity:     st.decision.Complexity,
		PromptSummary:  helper.TruncateString(st.preview, 200),
		MessageCount:   len(st.payload.Messages),
		RequestedModel: st.requested,
		ProviderID:     st.decision.Provider,
		ModelID:        st.decision.Model,
		RouterReason:   st.decision.Reason,
		LatencyMs:      st.elapsed().Milliseconds(),
		Streaming:      st.payload.Stream,
		TokensBefore:   st.comp.TokensBefore,
		TokensAfter:    st.comp.TokensAfter,
		CLISuccess:     false,
		HeuristicScore: 0,
		Error:          errMsg,
		Prompt:         helper.TruncateString(st.lastUser, 4000),
	}
	task.Insert()
	model.LogStep(st.requestID, model.StepLogTask, model.StepStatusCompleted, 0, gin.H{"task_id": task.ID, "error": errMsg})
}
