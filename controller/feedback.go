package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

// feedbackPayload is the POST /api/feedback body.
type feedbackPayload struct {
	TaskID string `json:"taskId"`
	Rating int    `json:"rating"`
}

// PostFeedback records a 1-5 user rating on a task, resolving partial task
// ids the same way the /feedback chat command does.
func (a *Admin) PostFeedback(c *gin.Context) {
	var payload feedbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind feedback"))
		return
	}
	if payload.Rating < 1 || payload.Rating > 5 {
		helper.RespondError(c, errors.New("rating must be between 1 and 5"))
		return
	}
	if payload.TaskID == "" {
		helper.RespondError(c, errors.New("taskId is required"))
		return
	}

	task, err := model.FindTaskByPrefix(payload.TaskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "task not found"})
		return
	}
	if err := model.UpdateTaskRating(task.ID, payload.Rating); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "task not found"})
			return
		}
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"taskId": task.ID,
		"rating": payload.Rating,
	}})
}
