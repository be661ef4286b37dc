package api

import (
	"log"
	"net/http"
	"strings"

	"zapcrm/internal/auth"
	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/warming"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	DB      *gorm.DB
	Inbox   *inbox.Service
	Warming *warming.Service
	Gateway Gateway
}

func NewConversationHandler(db *gorm.DB, gw Gateway) *ConversationHandler {
	return &ConversationHandler{DB: db, Inbox: inbox.NewService(db), Warming: warming.NewService(db), Gateway: gw}
}

// GetConversations lists conversations newest activity first, with their
// contact. ?unread=true keeps only conversations with unread messages.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	limit, offset := page(c)
	q := h.DB.Preload("Contact").Where("organization_id = ?", auth.OrgID(c))
	if c.Query("unread") == "true" {
		q = q.Where("unread_count > 0")
	}
	if tag := c.Query("tag"); tag != "" {
		q = q.Where("id IN (?)", h.DB.Model(&models.TagAssignment{}).
			Select("target_id").
			Where("tag_id = ? AND target_type = ?", tag, models.TargetConversation))
	}
	convs := []models.Conversation{}
	err := q.Order("last_message_at IS NULL, last_message_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *ConversationHandler) load(c *gin.Context) (models.Conversation, bool) {
	var conv models.Conversation
	err := h.DB.Preload("Contact").
		Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).
		First(&conv).Error
	if err != nil {
		respondError(c, err)
		return conv, false
	}
	return conv, true
}

// GetMessages returns a page of messages in chronological order.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conv, ok := h.load(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	msgs := []models.Message{}
	err := h.DB.Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	if err != nil {
		respondError(c, err)
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	if err := h.Inbox.MarkRead(c.Request.Context(), auth.OrgID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation read"})
}

type SendRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage sends a text through the conversation's instance (or the first
// connected one) and stores the outbound message.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conv, ok := h.load(c)
	if !ok {
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}

	inst, err := connectedInstance(h.DB, conv.OrganizationID, conv.InstanceID)
	if err == errNoInstance && conv.InstanceID != "" {
		inst, err = connectedInstance(h.DB, conv.OrganizationID, "")
	}
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	sent, err := h.Gateway.SendText(ctx, inst.InstanceName, conv.Contact.Phone, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.Inbox.RecordMessage(ctx, inbox.Record{
		OrgID:      conv.OrganizationID,
		InstanceID: inst.ID,
		Phone:      conv.Contact.Phone,
		Direction:  models.DirectionOutbound,
		Body:       req.Text,
		ExternalID: sent.Key.ID,
		Status:     "sent",
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Warming.RecordTraffic(ctx, conv.OrganizationID, inst.ID, 1, 0); err != nil {
		log.Printf("Error recording warming traffic: %v", err)
	}
	c.JSON(http.StatusCreated, res.Message)
}
