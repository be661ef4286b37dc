package api

import (
	"net/http"
	"strings"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TagHandler struct {
	DB *gorm.DB
}

func NewTagHandler(db *gorm.DB) *TagHandler {
	return &TagHandler{DB: db}
}

func (h *TagHandler) GetTags(c *gin.Context) {
	tags := []models.Tag{}
	if err := h.DB.Where("organization_id = ?", auth.OrgID(c)).Order("name").Find(&tags).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

type TagRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

func (h *TagHandler) CreateTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name is required")
		return
	}
	tag := models.Tag{
		OrganizationID: auth.OrgID(c),
		UserID:         auth.UserID(c),
		Name:           strings.TrimSpace(req.Name),
		Color:          req.Color,
	}
	if err := h.DB.Create(&tag).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (h *TagHandler) load(c *gin.Context) (models.Tag, bool) {
	var tag models.Tag
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&tag).Error
	if err != nil {
		respondError(c, err)
		return tag, false
	}
	return tag, true
}

func (h *TagHandler) UpdateTag(c *gin.Context) {
	tag, ok := h.load(c)
	if !ok {
		return
	}
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.DB.Model(&tag).Updates(models.Tag{Name: req.Name, Color: req.Color}).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&tag, "id = ?", tag.ID)
	c.JSON(http.StatusOK, tag)
}

func (h *TagHandler) DeleteTag(c *gin.Context) {
	tag, ok := h.load(c)
	if !ok {
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ? AND tag_id = ?", tag.OrganizationID, tag.ID).Delete(&models.TagAssignment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&tag).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Tag deleted"})
}

type AssignRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
}

// targetExists checks the target belongs to the organization.
func (h *TagHandler) targetExists(orgID string, req AssignRequest) bool {
	var n int64
	switch req.TargetType {
	case models.TargetContact:
		h.DB.Model(&models.Contact{}).Where("organization_id = ? AND id = ?", orgID, req.TargetID).Count(&n)
	case models.TargetConversation:
		h.DB.Model(&models.Conversation{}).Where("organization_id = ? AND id = ?", orgID, req.TargetID).Count(&n)
	}
	return n > 0
}

// AssignTag attaches the tag to a contact or conversation. Assigning twice is
// a no-op.
func (h *TagHandler) AssignTag(c *gin.Context) {
	tag, ok := h.load(c)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !h.targetExists(tag.OrganizationID, req) {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return
	}
	a := models.TagAssignment{
		OrganizationID: tag.OrganizationID,
		TagID:          tag.ID,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
	}
	if err := h.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&a).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Tag assigned"})
}

func (h *TagHandler) UnassignTag(c *gin.Context) {
	tag, ok := h.load(c)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var a models.TagAssignment
	err := h.DB.Where("tag_id = ? AND target_type = ? AND target_id = ?", tag.ID, req.TargetType, req.TargetID).First(&a).Error
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.DB.Delete(&a).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Tag removed"})
}

// GetTargetTags lists the tags on one contact or conversation.
func (h *TagHandler) GetTargetTags(c *gin.Context) {
	tags := []models.Tag{}
	err := h.DB.Joins("JOIN tag_assignments ON tag_assignments.tag_id = tags.id").
		Where("tags.organization_id = ? AND tag_assignments.target_type = ? AND tag_assignments.target_id = ?",
			auth.OrgID(c), c.Param("type"), c.Param("id")).
		Order("tags.name").
		Find(&tags).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}
