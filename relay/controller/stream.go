package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common"
	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/common/render"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/monitor"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	"github.com/cheaprelay/cheaprelay/relay/evaluate"
)

// relayStream runs the streaming dispatch: forward canonical chunks to the
// client while teeing text into the activity registry, then settle accounting
// from the metadata future.
func (p *Pipeline) relayStream(c *gin.Context, st *requestState, adapter adaptor.Adaptor, req *adaptor.Request) {
	stageStart := time.Now()
	model.LogStep(st.requestID, model.StepProviderDispatch, model.StepStatusStarted, 0, gin.H{
		"provider": st.decision.Provider, "model": st.decision.Model,
	})

	result, err := adapter.Stream(c.Request.Context(), req)
	if err != nil {
		model.LogStep(st.requestID, model.StepProviderDispatch, model.StepStatusError,
			time.Since(stageStart), err.Error())
		p.persistFailedTask(st, err.Error())
		respondError(c, st, newServerError(http.StatusInternalServerError, "provider_error",
			err.Error()), model.RequestStatusError)
		return
	}

	taskID := helper.GenRequestID()
	c.Header("x-task-id", taskID)
	if st.decision.Provider == "claude-cli" {
		// Filled properly once metadata resolves; start with the last known.
		if mode := p.dispatchMode(st); mode != "" {
			c.Header("x-dispatch-mode", mode)
		}
	}
	common.SetEventStreamHeaders(c)

	p.Activity.Register(taskID, st.decision.Provider, st.decision.Model,
		st.decision.Category, st.preview, st.comp.TokensAfter)
	model.LogStep(st.requestID, model.StepProviderStream, model.StepStatusStarted, 0, nil)

	chunks := 0
	for chunk := range result.Events {
		if chunk == nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			p.Activity.AppendChunk(taskID, chunk.Choices[0].Delta.Content)
		}
		if err := render.ObjectData(c, chunk); err != nil {
			// Client went away; keep draining so the adapter can settle the
			// metadata future (warm subprocesses must reach their result
			// event before release).
			for range result.Events {
			}
			break
		}
		chunks++
	}
	render.Done(c)
	model.LogStep(st.requestID, model.StepProviderStream, model.StepStatusCompleted,
		time.Since(stageStart), gin.H{"chunks": chunks})

	waitCtx, cancel := context.WithTimeout(context.Background(), config.StreamMetadataTimeout)
	defer cancel()
	meta, err := result.Metadata.Wait(waitCtx)
	if err != nil {
		model.LogStep(st.requestID, model.StepProviderDone, model.StepStatusError,
			time.Since(stageStart), "metadata wait: "+err.Error())
		p.Activity.Remove(taskID)
		p.persistFailedTask(st, "stream metadata timeout")
		st.reqLog.Finalize(model.RequestStatusError, http.StatusOK, "stream metadata timeout")
		monitor.RecordRequest(model.RequestStatusError, st.elapsed())
		return
	}

	dispatchMode := meta.DispatchMode
	if dispatchMode == "" {
		dispatchMode = p.dispatchMode(st)
	}
	if meta.Err != nil {
		model.LogStep(st.requestID, model.StepProviderDone, model.StepStatusError,
			time.Since(stageStart), meta.Err.Error())
		p.Activity.Remove(taskID)
		p.persistFailedTask(st, meta.Err.Error())
		st.reqLog.Finalize(model.RequestStatusError, http.StatusOK, meta.Err.Error())
		monitor.RecordRequest(model.RequestStatusError, st.elapsed())
		return
	}

	model.LogStep(st.requestID, model.StepProviderDone, model.StepStatusCompleted,
		time.Since(stageStart), gin.H{
			"tokens_in": meta.TokensIn, "tokens_out": meta.TokensOut, "cost_usd": meta.CostUSD,
		})
	p.logDispatchMode(st)
	if len(meta.ToolCalls) > 0 {
		model.LogStep(st.requestID, model.StepToolParse, model.StepStatusCompleted, 0,
			gin.H{"tool_calls": len(meta.ToolCalls)})
	}

	_, score := evaluate.Score(meta.Text, true, st.decision.Category, st.decision.Complexity)
	task := p.buildTask(st, taskID, &meta.Response, true, score, dispatchMode)
	task.Insert()
	model.LogStep(st.requestID, model.StepLogTask, model.StepStatusCompleted, 0, gin.H{"task_id": task.ID})
	p.Activity.Complete(taskID, meta.TokensIn, meta.TokensOut)

	model.LogStep(st.requestID, model.StepResponseSent, model.StepStatusCompleted, st.elapsed(), nil)
	st.reqLog.Finalize(model.RequestStatusCompleted, http.StatusOK, "")
	monitor.RecordDispatch(st.decision.Provider, st.decision.Model, meta.CostUSD, st.comp.TokensSaved())
	monitor.RecordRequest(model.RequestStatusCompleted, st.elapsed())
}
