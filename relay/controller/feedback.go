package controller

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

var feedbackRe = regexp.MustCompile(`^/feedback\s+(good|bad|[1-5])(?:\s+(\S+))?\s*$`)

// handleFeedback implements the /feedback short-circuit: rate a past task
// without any upstream call. Returns false when the command does not parse,
// letting the message fall through as a normal prompt.
func (p *Pipeline) handleFeedback(c *gin.Context, st *requestState) bool {
	stageStart := time.Now()
	m := feedbackRe.FindStringSubmatch(strings.TrimSpace(st.lastUser))
	if m == nil {
		model.LogStep(st.requestID, model.StepFeedback, model.StepStatusSkipped,
			time.Since(stageStart), "unparseable feedback, falling through")
		return false
	}

	rating := ratingOf(m[1])
	var (
		task *model.TaskLog
		err  error
	)
	if m[2] != "" {
		task, err = model.FindTaskByPrefix(m[2])
	} else {
		task, err = model.MostRecentTask()
	}
	if err != nil {
		model.LogStep(st.requestID, model.StepFeedback, model.StepStatusError,
			time.Since(stageStart), err.Error())
		respondError(c, st, relaymodel.NewError(http.StatusNotFound, "task_not_found",
			"no task matches the feedback target"), model.RequestStatusError)
		return true
	}

	if err := model.UpdateTaskRating(task.ID, rating); err != nil {
		model.LogStep(st.requestID, model.StepFeedback, model.StepStatusError,
			time.Since(stageStart), err.Error())
		respondError(c, st, newServerError(http.StatusInternalServerError, "feedback_failed",
			"could not record the rating"), model.RequestStatusError)
		return true
	}

	model.LogStep(st.requestID, model.StepFeedback, model.StepStatusCompleted,
		time.Since(stageStart), gin.H{"task_id": task.ID, "rating": rating})

	text := fmt.Sprintf("Feedback recorded: %s (%d/5) for Task %s (%s on %s/%s).",
		sentimentOf(rating), rating, helper.ShortID(task.ID),
		task.Category, task.ProviderID, task.ModelID)
	c.JSON(http.StatusOK, syntheticCompletion(st, text))
	model.LogStep(st.requestID, model.StepResponseSent, model.StepStatusCompleted, st.elapsed(), "feedback")
	st.reqLog.Finalize(model.RequestStatusCompleted, http.StatusOK, "")
	return true
}

func sentimentOf(rating int) string {
	switch {
	case rating >= 4:
		return "positive"
	case rating <= 2:
		return "negative"
	}
	return "neutral"
}

func ratingOf(word string) int {
	switch word {
	case "good":
		return 5
	case "bad":
		return 1
	}
	n, _ := strconv.Atoi(word)
	return n
}

// syntheticCompletion is a well-formed completion envelope carrying generated
// text, used where no provider call happened.
func syntheticCompletion(st *requestState, text string) *relaymodel.TextResponse {
	return &relaymodel.TextResponse{
		ID:      "chatcmpl-" + helper.GenRequestID()[:24],
		Object:  "chat.completion",
		Created: helper.GetTimestamp(),
		Model:   st.requested,
		Choices: []relaymodel.TextResponseChoice{{
			Message:      relaymodel.Message{Role: "assistant", Content: text},
			FinishReason: relaymodel.FinishReasonStop,
		}},
	}
}
