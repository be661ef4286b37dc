package api

import (
	"net/http"
	"regexp"

	"zapcrm/internal/auth"
	"zapcrm/internal/fields"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var fieldKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,99}$`)

type CustomFieldHandler struct {
	DB *gorm.DB
}

func NewCustomFieldHandler(db *gorm.DB) *CustomFieldHandler {
	return &CustomFieldHandler{DB: db}
}

func (h *CustomFieldHandler) GetFields(c *gin.Context) {
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if target := c.Query("target"); target != "" {
		q = q.Where("target = ?", target)
	}
	defs := []models.CustomFieldDefinition{}
	if err := q.Order("position, created_at").Find(&defs).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

type FieldRequest struct {
	Target    string   `json:"target"`
	FieldKey  string   `json:"field_key"`
	Label     string   `json:"label"`
	FieldType string   `json:"field_type"`
	Options   []string `json:"options"`
	Position  int      `json:"position"`
}

func (r FieldRequest) validate() string {
	if r.Target != "deal" && r.Target != "lead" {
		return "target must be deal or lead"
	}
	if !fieldKeyPattern.MatchString(r.FieldKey) {
		return "field_key must be lowercase letters, digits and underscores"
	}
	kind := fields.Kind(r.FieldType)
	if !kind.Valid() {
		return "unknown field_type"
	}
	if kind == fields.KindSelect && len(r.Options) == 0 {
		return "select fields need options"
	}
	return ""
}

func (h *CustomFieldHandler) CreateField(c *gin.Context) {
	req := FieldRequest{Target: "deal"}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		badRequest(c, msg)
		return
	}
	orgID := auth.OrgID(c)
	var n int64
	h.DB.Model(&models.CustomFieldDefinition{}).
		Where("organization_id = ? AND target = ? AND field_key = ?", orgID, req.Target, req.FieldKey).
		Count(&n)
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "field_key already exists"})
		return
	}
	def := models.CustomFieldDefinition{
		OrganizationID: orgID,
		Target:         req.Target,
		FieldKey:       req.FieldKey,
		Label:          req.Label,
		FieldType:      req.FieldType,
		Options:        datatypes.JSONSlice[string](req.Options),
		Position:       req.Position,
	}
	if err := h.DB.Create(&def).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

// UpdateField changes label, options and position. Key, target and type are
// fixed once values may exist.
func (h *CustomFieldHandler) UpdateField(c *gin.Context) {
	var def models.CustomFieldDefinition
	if err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&def).Error; err != nil {
		respondError(c, err)
		return
	}
	var req FieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updates := map[string]interface{}{"label": req.Label, "position": req.Position}
	if req.Options != nil {
		if def.FieldType == string(fields.KindSelect) && len(req.Options) == 0 {
			badRequest(c, "select fields need options")
			return
		}
		updates["options"] = datatypes.JSONSlice[string](req.Options)
	}
	if err := h.DB.Model(&def).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&def, "id = ?", def.ID)
	c.JSON(http.StatusOK, def)
}

func (h *CustomFieldHandler) DeleteField(c *gin.Context) {
	var def models.CustomFieldDefinition
	if err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&def).Error; err != nil {
		respondError(c, err)
		return
	}
	if err := h.DB.Delete(&def).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Field deleted"})
}
