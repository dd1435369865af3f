package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

// modelEntry is one row of the GET /v1/models listing.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

var tierAliases = []string{"auto", "economy", "standard", "premium", "opus", "sonnet", "haiku"}

// ListModels serves GET /v1/models: the static tier aliases plus every
// enabled catalog model (bare and provider-qualified), deduped.
func (p *Pipeline) ListModels(c *gin.Context) {
	created := helper.GetTimestamp()
	seen := make(map[string]bool)
	var data []modelEntry

	add := func(id, owner string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		data = append(data, modelEntry{ID: id, Object: "model", Created: created, OwnedBy: owner})
	}

	for _, alias := range tierAliases {
		add(alias, "cheaprelay")
	}
	if models, err := model.GetEnabledModels(); err == nil {
		for _, mc := range models {
			add(mc.ModelID, mc.ProviderID)
			add(mc.ProviderID+":"+mc.ModelID, mc.ProviderID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
