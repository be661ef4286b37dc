package api

import (
	"net/http"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AIAgentHandler struct {
	DB *gorm.DB
}

func NewAIAgentHandler(db *gorm.DB) *AIAgentHandler {
	return &AIAgentHandler{DB: db}
}

type AgentRequest struct {
	Name     string               `json:"name"`
	Scope    string               `json:"scope"`
	ScopeID  string               `json:"scope_id"`
	Enabled  *bool                `json:"enabled"`
	Settings models.AgentSettings `json:"settings"`
}

func validateAgentSettings(s *models.AgentSettings) string {
	if s.ActiveFromHour < 0 || s.ActiveFromHour > 23 || s.ActiveUntilHour < 0 || s.ActiveUntilHour > 24 {
		return "active hours must be between 0 and 24"
	}
	if s.ReplyDelaySecs < 0 || s.FollowUpAfter < 0 {
		return "delays cannot be negative"
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 500
	}
	if s.ActiveUntilHour == 0 && s.ActiveFromHour == 0 {
		s.ActiveUntilHour = 24
	}
	return ""
}

func (h *AIAgentHandler) scopeExists(orgID, scope, id string) bool {
	var n int64
	switch scope {
	case "funnel":
		h.DB.Model(&models.Funnel{}).Where("organization_id = ? AND id = ?", orgID, id).Count(&n)
	case "campaign":
		h.DB.Model(&models.Campaign{}).Where("organization_id = ? AND id = ?", orgID, id).Count(&n)
	}
	return n > 0
}

func (h *AIAgentHandler) GetAgents(c *gin.Context) {
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if s := c.Query("scope"); s != "" {
		q = q.Where("scope = ?", s)
	}
	if id := c.Query("scope_id"); id != "" {
		q = q.Where("scope_id = ?", id)
	}
	agents := []models.AIAgentConfig{}
	if err := q.Order("created_at").Find(&agents).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *AIAgentHandler) CreateAgent(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Name == "" {
		badRequest(c, "name is required")
		return
	}
	orgID := auth.OrgID(c)
	if !h.scopeExists(orgID, req.Scope, req.ScopeID) {
		badRequest(c, "scope must reference a funnel or campaign of the organization")
		return
	}
	if msg := validateAgentSettings(&req.Settings); msg != "" {
		badRequest(c, msg)
		return
	}
	agent := models.AIAgentConfig{
		OrganizationID: orgID,
		Name:           req.Name,
		Scope:          req.Scope,
		ScopeID:        req.ScopeID,
		Enabled:        req.Enabled == nil || *req.Enabled,
		Settings:       datatypes.NewJSONType(req.Settings),
	}
	if err := h.DB.Create(&agent).Error; err != nil {
		respondError(c, err)
		return
	}
	if !agent.Enabled {
		// gorm skips false against the column default
		h.DB.Model(&agent).Update("enabled", false)
	}
	c.JSON(http.StatusCreated, agent)
}

func (h *AIAgentHandler) load(c *gin.Context) (models.AIAgentConfig, bool) {
	var agent models.AIAgentConfig
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&agent).Error
	if err != nil {
		respondError(c, err)
		return agent, false
	}
	return agent, true
}

func (h *AIAgentHandler) GetAgent(c *gin.Context) {
	if agent, ok := h.load(c); ok {
		c.JSON(http.StatusOK, agent)
	}
}

// UpdateAgent replaces name, enabled and the whole settings document.
func (h *AIAgentHandler) UpdateAgent(c *gin.Context) {
	agent, ok := h.load(c)
	if !ok {
		return
	}
	req := AgentRequest{Name: agent.Name, Settings: agent.Settings.Data()}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if msg := validateAgentSettings(&req.Settings); msg != "" {
		badRequest(c, msg)
		return
	}
	updates := map[string]interface{}{
		"name":     req.Name,
		"settings": datatypes.NewJSONType(req.Settings),
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if err := h.DB.Model(&agent).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&agent, "id = ?", agent.ID)
	c.JSON(http.StatusOK, agent)
}

func (h *AIAgentHandler) DeleteAgent(c *gin.Context) {
	agent, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(&agent).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Agent deleted"})
}
