package controller

import (
	"net/http"
	"strconv"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

// GetProviders lists all provider rows.
func (a *Admin) GetProviders(c *gin.Context) {
	var rows []model.Provider
	if err := model.DB.Order("priority DESC, id ASC").Find(&rows).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "query providers"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

// CreateProvider inserts a provider row and re-initializes adapters.
func (a *Admin) CreateProvider(c *gin.Context) {
	var row model.Provider
	if err := c.ShouldBindJSON(&row); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind provider"))
		return
	}
	if row.ID == "" {
		helper.RespondError(c, errors.New("provider id is required"))
		return
	}
	if err := model.DB.Create(&row).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "create provider"))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": row})
}

// UpdateProvider mutates a provider row and re-initializes adapters.
func (a *Admin) UpdateProvider(c *gin.Context) {
	var row model.Provider
	if err := c.ShouldBindJSON(&row); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind provider"))
		return
	}
	if row.ID == "" {
		row.ID = c.Param("id")
	}
	tx := model.DB.Model(&model.Provider{}).Where("id = ?", row.ID).
		Updates(map[string]any{
			"name":     row.Name,
			"enabled":  row.Enabled,
			"priority": row.Priority,
			"config":   row.Config,
		})
	if tx.Error != nil {
		helper.RespondError(c, errors.Wrap(tx.Error, "update provider"))
		return
	}
	if tx.RowsAffected == 0 {
		helper.RespondError(c, errors.Errorf("provider %q not found", row.ID))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteProvider removes a provider row and its models.
func (a *Admin) DeleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := model.DB.Where("provider_id = ?", id).Delete(&model.ModelConfig{}).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "delete provider models"))
		return
	}
	if err := model.DB.Delete(&model.Provider{}, "id = ?", id).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "delete provider"))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetModels lists catalog model rows, optionally filtered by provider.
func (a *Admin) GetModels(c *gin.Context) {
	q := model.DB.Order("provider_id ASC, input_cost_per_m ASC")
	if provider := c.Query("provider"); provider != "" {
		q = q.Where("provider_id = ?", provider)
	}
	var rows []model.ModelConfig
	if err := q.Find(&rows).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "query models"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

// CreateModel inserts a catalog model row.
func (a *Admin) CreateModel(c *gin.Context) {
	var row model.ModelConfig
	if err := c.ShouldBindJSON(&row); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind model"))
		return
	}
	if row.ProviderID == "" || row.ModelID == "" {
		helper.RespondError(c, errors.New("provider_id and model_id are required"))
		return
	}
	if err := model.DB.Create(&row).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "create model"))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": row})
}

// UpdateModel mutates a catalog model row.
func (a *Admin) UpdateModel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		helper.RespondError(c, errors.Wrap(err, "parse model id"))
		return
	}
	var row model.ModelConfig
	if err := c.ShouldBindJSON(&row); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind model"))
		return
	}
	row.ID = id
	if err := model.DB.Model(&model.ModelConfig{}).Where("id = ?", id).
		Updates(map[string]any{
			"name":              row.Name,
			"tier":              row.Tier,
			"input_cost_per_m":  row.InputCostPerM,
			"output_cost_per_m": row.OutputCostPerM,
			"max_context":       row.MaxContext,
			"supports_stream":   row.SupportsStream,
			"supports_tools":    row.SupportsTools,
			"supports_vision":   row.SupportsVision,
			"enabled":           row.Enabled,
		}).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "update model"))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteModel removes a catalog model row.
func (a *Admin) DeleteModel(c *gin.Context) {
	if err := model.DB.Delete(&model.ModelConfig{}, "id = ?", c.Param("id")).Error; err != nil {
		helper.RespondError(c, errors.Wrap(err, "delete model"))
		return
	}
	if err := a.reinitProviders(); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
