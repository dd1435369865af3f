package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/model"
)

// GetStatus serves GET /api/status: a cheap liveness probe with provider and
// database health.
func (a *Admin) GetStatus(c *gin.Context) {
	dbOK := true
	var providerCount int64
	if err := model.DB.Model(&model.Provider{}).Where("enabled = ?", true).
		Count(&providerCount).Error; err != nil {
		dbOK = false
	}

	cliAvailable := false
	if cli := a.Registry.ClaudeCLI(); cli != nil {
		cliAvailable = cli.IsAvailable()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"status":            "ok",
			"database":          dbOK,
			"enabled_providers": providerCount,
			"claude_cli":        cliAvailable,
		},
	})
}
