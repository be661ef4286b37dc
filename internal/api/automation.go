package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"zapcrm/internal/auth"
	"zapcrm/internal/automation"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AutomationHandler struct {
	DB *gorm.DB
}

func NewAutomationHandler(db *gorm.DB) *AutomationHandler {
	return &AutomationHandler{DB: db}
}

// GetRules returns the organization's rules, highest priority first
func (h *AutomationHandler) GetRules(c *gin.Context) {
	rules := []models.AutomationRule{}
	err := h.DB.Where("organization_id = ?", auth.OrgID(c)).
		Order("priority DESC, created_at DESC").
		Find(&rules).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

type RuleRequest struct {
	Name       string                 `json:"name"`
	Priority   *int                   `json:"priority"`
	Enabled    *bool                  `json:"enabled"`
	Conditions []automation.Condition `json:"conditions"`
	Actions    []automation.Action    `json:"actions"`
}

func validateRule(r RuleRequest) string {
	if strings.TrimSpace(r.Name) == "" {
		return "name is required"
	}
	if len(r.Conditions) == 0 || len(r.Actions) == 0 {
		return "a rule needs at least one condition and one action"
	}
	for _, cond := range r.Conditions {
		switch cond.Type {
		case "keyword", "contact_tag", "message_type":
		default:
			return "unknown condition type: " + cond.Type
		}
	}
	for _, a := range r.Actions {
		switch a.Type {
		case "send_message", "add_tag", "start_flow":
		default:
			return "unknown action type: " + a.Type
		}
	}
	return ""
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if msg := validateRule(req); msg != "" {
		badRequest(c, msg)
		return
	}
	conditions, _ := json.Marshal(req.Conditions)
	actions, _ := json.Marshal(req.Actions)
	rule := models.AutomationRule{
		OrganizationID: auth.OrgID(c),
		Name:           strings.TrimSpace(req.Name),
		Enabled:        req.Enabled == nil || *req.Enabled,
		Conditions:     datatypes.JSON(conditions),
		Actions:        datatypes.JSON(actions),
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if err := h.DB.Create(&rule).Error; err != nil {
		respondError(c, err)
		return
	}
	if !rule.Enabled {
		h.DB.Model(&rule).Update("enabled", false)
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) loadRule(c *gin.Context) (models.AutomationRule, bool) {
	var rule models.AutomationRule
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&rule).Error
	if err != nil {
		respondError(c, err)
		return rule, false
	}
	return rule, true
}

// UpdateRule replaces the fields present in the body.
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	req := RuleRequest{Name: rule.Name}
	json.Unmarshal(rule.Conditions, &req.Conditions)
	json.Unmarshal(rule.Actions, &req.Actions)
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if msg := validateRule(req); msg != "" {
		badRequest(c, msg)
		return
	}
	conditions, _ := json.Marshal(req.Conditions)
	actions, _ := json.Marshal(req.Actions)
	updates := map[string]interface{}{
		"name":       strings.TrimSpace(req.Name),
		"conditions": datatypes.JSON(conditions),
		"actions":    datatypes.JSON(actions),
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if err := h.DB.Model(&rule).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&rule, "id = ?", rule.ID)
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(&rule).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule deleted"})
}

// ToggleRule enables or disables a rule
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.DB.Model(&rule).Update("enabled", req.Enabled).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule updated", "enabled": req.Enabled})
}

// GetLogs returns the latest rule executions
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	limit, offset := page(c)
	logs := []models.AutomationLog{}
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if id := c.Query("rule_id"); id != "" {
		q = q.Where("rule_id = ?", id)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

type AutomationStats struct {
	TotalRules      int64 `json:"total_rules"`
	ActiveRules     int64 `json:"active_rules"`
	TotalFlows      int64 `json:"total_flows"`
	ActiveSessions  int64 `json:"active_sessions"`
	TotalExecutions int64 `json:"total_executions"`
	SuccessfulExecs int64 `json:"successful_executions"`
	FailedExecs     int64 `json:"failed_executions"`
}

// GetAnalytics returns automation analytics
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	orgID := auth.OrgID(c)
	var stats AutomationStats
	rules := h.DB.Model(&models.AutomationRule{}).Where("organization_id = ?", orgID)
	rules.Session(&gorm.Session{}).Count(&stats.TotalRules)
	rules.Session(&gorm.Session{}).Where("enabled = ?", true).Count(&stats.ActiveRules)
	h.DB.Model(&models.ChatbotFlow{}).Where("organization_id = ?", orgID).Count(&stats.TotalFlows)
	h.DB.Model(&models.ConversationSession{}).
		Where("organization_id = ? AND status = ?", orgID, models.SessionActive).
		Count(&stats.ActiveSessions)
	logs := h.DB.Model(&models.AutomationLog{}).Where("organization_id = ?", orgID)
	logs.Session(&gorm.Session{}).Count(&stats.TotalExecutions)
	logs.Session(&gorm.Session{}).Where("success = ?", true).Count(&stats.SuccessfulExecs)
	stats.FailedExecs = stats.TotalExecutions - stats.SuccessfulExecs
	c.JSON(http.StatusOK, stats)
}

// --- Chatbot flows ---

type FlowRequest struct {
	Name            string            `json:"name"`
	TriggerKeywords []string          `json:"trigger_keywords"`
	Enabled         *bool             `json:"enabled"`
	Graph           *automation.Graph `json:"graph"`
}

// FlowResponse is a flow with its graph in editor shape.
type FlowResponse struct {
	models.ChatbotFlow
	Graph *automation.Graph `json:"graph"`
}

func validateGraph(g *automation.Graph) string {
	if g == nil {
		return ""
	}
	if err := g.Validate(); err != nil {
		return err.Error()
	}
	return ""
}

func cleanKeywords(in []string) datatypes.JSONSlice[string] {
	out := datatypes.JSONSlice[string]{}
	for _, kw := range in {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func (h *AutomationHandler) GetFlows(c *gin.Context) {
	flows := []models.ChatbotFlow{}
	if err := h.DB.Where("organization_id = ?", auth.OrgID(c)).Order("created_at DESC").Find(&flows).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flows)
}

func (h *AutomationHandler) CreateFlow(c *gin.Context) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name is required")
		return
	}
	if msg := validateGraph(req.Graph); msg != "" {
		badRequest(c, msg)
		return
	}
	flow := models.ChatbotFlow{
		OrganizationID:  auth.OrgID(c),
		Name:            strings.TrimSpace(req.Name),
		TriggerKeywords: cleanKeywords(req.TriggerKeywords),
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&flow).Error; err != nil {
			return err
		}
		if !flow.Enabled {
			if err := tx.Model(&flow).Update("enabled", false).Error; err != nil {
				return err
			}
		}
		if req.Graph == nil {
			return nil
		}
		return automation.SaveGraph(tx, flow.ID, *req.Graph)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondFlow(c, http.StatusCreated, flow)
}

func (h *AutomationHandler) loadFlow(c *gin.Context) (models.ChatbotFlow, bool) {
	var flow models.ChatbotFlow
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&flow).Error
	if err != nil {
		respondError(c, err)
		return flow, false
	}
	return flow, true
}

func (h *AutomationHandler) respondFlow(c *gin.Context, status int, flow models.ChatbotFlow) {
	g, err := automation.LoadGraph(h.DB, flow.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, FlowResponse{ChatbotFlow: flow, Graph: g})
}

func (h *AutomationHandler) GetFlow(c *gin.Context) {
	if flow, ok := h.loadFlow(c); ok {
		h.respondFlow(c, http.StatusOK, flow)
	}
}

// UpdateFlow changes the flow fields present in the body; a graph in the
// body replaces the stored one. Active sessions keep running on the node ids
// they hold.
func (h *AutomationHandler) UpdateFlow(c *gin.Context) {
	flow, ok := h.loadFlow(c)
	if !ok {
		return
	}
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if msg := validateGraph(req.Graph); msg != "" {
		badRequest(c, msg)
		return
	}
	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.TriggerKeywords != nil {
		updates["trigger_keywords"] = cleanKeywords(req.TriggerKeywords)
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&flow).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.Graph == nil {
			return nil
		}
		return automation.SaveGraph(tx, flow.ID, *req.Graph)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&flow, "id = ?", flow.ID)
	h.respondFlow(c, http.StatusOK, flow)
}

// DeleteFlow removes the flow, its graph and ends its running sessions.
func (h *AutomationHandler) DeleteFlow(c *gin.Context) {
	flow, ok := h.loadFlow(c)
	if !ok {
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ConversationSession{}).
			Where("organization_id = ? AND flow_id = ? AND status = ?", flow.OrganizationID, flow.ID, models.SessionActive).
			Update("status", models.SessionCompleted).Error; err != nil {
			return err
		}
		if err := automation.SaveGraph(tx, flow.ID, automation.Graph{}); err != nil {
			return err
		}
		return tx.Delete(&flow).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Flow deleted"})
}

// --- Sessions ---

type SessionInfo struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	ContactName string    `json:"contact_name"`
	FlowID      string    `json:"flow_id"`
	FlowName    string    `json:"flow_name"`
	CurrentNode string    `json:"current_node"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetActiveSessions returns all currently active chatbot sessions
func (h *AutomationHandler) GetActiveSessions(c *gin.Context) {
	sessions := []SessionInfo{}
	err := h.DB.Table("conversation_sessions").
		Select("conversation_sessions.id, conversation_sessions.phone, conversation_sessions.flow_id, conversation_sessions.current_node, conversation_sessions.status, conversation_sessions.created_at, conversation_sessions.updated_at, contacts.name AS contact_name, chatbot_flows.name AS flow_name").
		Joins("LEFT JOIN contacts ON contacts.phone = conversation_sessions.phone AND contacts.organization_id = conversation_sessions.organization_id").
		Joins("LEFT JOIN chatbot_flows ON chatbot_flows.id = conversation_sessions.flow_id").
		Where("conversation_sessions.organization_id = ? AND conversation_sessions.status = ?", auth.OrgID(c), models.SessionActive).
		Order("conversation_sessions.updated_at DESC").
		Scan(&sessions).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// TerminateSession forcefully ends an active session
func (h *AutomationHandler) TerminateSession(c *gin.Context) {
	tx := h.DB.Model(&models.ConversationSession{}).
		Where("organization_id = ? AND id = ? AND status = ?", auth.OrgID(c), c.Param("id"), models.SessionActive).
		Update("status", models.SessionCompleted)
	if tx.Error != nil {
		respondError(c, tx.Error)
		return
	}
	if tx.RowsAffected == 0 {
		respondError(c, errNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Session terminated"})
}
