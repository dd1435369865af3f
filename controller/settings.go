package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/helper"
)

// settingsPayload is the GET/PUT /api/settings body.
type settingsPayload struct {
	LLMClassifierEnabled *bool   `json:"llmClassifierEnabled,omitempty"`
	PinnedModel          *string `json:"pinnedModel,omitempty"`
}

// GetSettings returns the runtime-mutable settings.
func (a *Admin) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"llmClassifierEnabled": config.LLMClassifierEnabled(),
			"pinnedModel":          config.PinnedModel(),
		},
	})
}

// UpdateSettings mutates the runtime settings. Omitted fields keep their
// current value.
func (a *Admin) UpdateSettings(c *gin.Context) {
	var payload settingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind settings"))
		return
	}
	if payload.LLMClassifierEnabled != nil {
		config.SetLLMClassifierEnabled(*payload.LLMClassifierEnabled)
	}
	if payload.PinnedModel != nil {
		config.SetPinnedModel(*payload.PinnedModel)
	}
	a.GetSettings(c)
}
