package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// templateTransitions is the provider approval workflow.
var templateTransitions = map[string][]string{
	models.TemplateDraft:    {models.TemplatePending},
	models.TemplatePending:  {models.TemplateApproved, models.TemplateRejected, models.TemplatePaused, models.TemplateDisabled},
	models.TemplateApproved: {models.TemplatePaused, models.TemplateDisabled},
	models.TemplatePaused:   {models.TemplateApproved, models.TemplateDisabled},
}

func CanTransition(from, to string) bool {
	for _, s := range templateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TemplateHandler struct {
	DB *gorm.DB
}

func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{DB: db}
}

func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	templates := []models.MetaTemplate{}
	if err := q.Order("created_at DESC").Find(&templates).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

type TemplateRequest struct {
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Category   string          `json:"category"`
	Components json.RawMessage `json:"components"`
}

// templateName follows the provider's naming rule: lowercase, digits and
// underscores.
func templateName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r == ' ' || r == '-':
			return '_'
		}
		return -1
	}, s)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	name := templateName(req.Name)
	if name == "" {
		badRequest(c, "name is required")
		return
	}
	if len(req.Components) > 0 && !json.Valid(req.Components) {
		badRequest(c, "components must be JSON")
		return
	}
	t := models.MetaTemplate{
		OrganizationID: auth.OrgID(c),
		Name:           name,
		Language:       req.Language,
		Category:       strings.ToUpper(req.Category),
		Status:         models.TemplateDraft,
		Components:     datatypes.JSON(req.Components),
	}
	if t.Language == "" {
		t.Language = "pt_BR"
	}
	if len(t.Components) == 0 {
		t.Components = datatypes.JSON("[]")
	}
	if err := h.DB.Create(&t).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TemplateHandler) load(c *gin.Context) (models.MetaTemplate, bool) {
	var t models.MetaTemplate
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&t).Error
	if err != nil {
		respondError(c, err)
		return t, false
	}
	return t, true
}

// UpdateTemplate edits a draft.
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	if t.Status != models.TemplateDraft {
		c.JSON(http.StatusConflict, gin.H{"error": "only draft templates can be edited"})
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updates := map[string]interface{}{}
	if n := templateName(req.Name); n != "" {
		updates["name"] = n
	}
	if req.Language != "" {
		updates["language"] = req.Language
	}
	if req.Category != "" {
		updates["category"] = strings.ToUpper(req.Category)
	}
	if len(req.Components) > 0 {
		if !json.Valid(req.Components) {
			badRequest(c, "components must be JSON")
			return
		}
		updates["components"] = datatypes.JSON(req.Components)
	}
	if err := h.DB.Model(&t).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&t, "id = ?", t.ID)
	c.JSON(http.StatusOK, t)
}

func (h *TemplateHandler) transition(c *gin.Context, t models.MetaTemplate, to, reason string) {
	if !CanTransition(t.Status, to) {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("cannot move template from %s to %s", t.Status, to)})
		return
	}
	updates := map[string]interface{}{"status": to}
	if to == models.TemplateRejected {
		updates["rejected_reason"] = reason
	}
	// conditional on the status we validated against
	res := h.DB.Model(&models.MetaTemplate{}).
		Where("id = ? AND organization_id = ? AND status = ?", t.ID, t.OrganizationID, t.Status).
		Updates(updates)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "template status changed concurrently"})
		return
	}
	h.DB.First(&t, "id = ?", t.ID)
	c.JSON(http.StatusOK, t)
}

// SubmitTemplate sends a draft for provider review.
func (h *TemplateHandler) SubmitTemplate(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	h.transition(c, t, models.TemplatePending, "")
}

type StatusRequest struct {
	Status     string `json:"status" binding:"required"`
	Reason     string `json:"reason"`
	ExternalID string `json:"external_id"`
}

// UpdateStatus records a provider decision on the template.
func (h *TemplateHandler) UpdateStatus(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.ExternalID != "" && t.ExternalID == "" {
		h.DB.Model(&t).Update("external_id", req.ExternalID)
	}
	h.transition(c, t, strings.ToLower(req.Status), req.Reason)
}

func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	var n int64
	h.DB.Model(&models.Campaign{}).
		Where("template_id = ? AND status = ?", t.ID, models.CampaignRunning).
		Count(&n)
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "template is used by a running campaign"})
		return
	}
	if err := h.DB.Delete(&t).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Template deleted"})
}
