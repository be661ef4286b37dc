package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"zapcrm/internal/auth"
	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/realtime"
	"zapcrm/internal/warming"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BroadcastHandler manages campaigns: one approved template sent to a set
// of contacts through one instance.
type BroadcastHandler struct {
	DB      *gorm.DB
	Gateway Gateway
	Inbox   *inbox.Service
	Warming *warming.Service
	Pub     realtime.Publisher

	// Dispatch runs a campaign off the request path.
	Dispatch func(func())
}

func NewBroadcastHandler(db *gorm.DB, gw Gateway, pub realtime.Publisher) *BroadcastHandler {
	return &BroadcastHandler{
		DB:       db,
		Gateway:  gw,
		Inbox:    inbox.NewService(db),
		Warming:  warming.NewService(db),
		Pub:      pub,
		Dispatch: func(f func()) { go f() },
	}
}

func (h *BroadcastHandler) GetCampaigns(c *gin.Context) {
	campaigns := []models.Campaign{}
	if err := h.DB.Where("organization_id = ?", auth.OrgID(c)).Order("created_at DESC").Find(&campaigns).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *BroadcastHandler) load(c *gin.Context) (models.Campaign, bool) {
	var camp models.Campaign
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&camp).Error
	if err != nil {
		respondError(c, err)
		return camp, false
	}
	return camp, true
}

func (h *BroadcastHandler) GetCampaign(c *gin.Context) {
	camp, ok := h.load(c)
	if !ok {
		return
	}
	recipients := []models.CampaignRecipient{}
	h.DB.Where("campaign_id = ?", camp.ID).Order("id").Find(&recipients)
	c.JSON(http.StatusOK, gin.H{"campaign": camp, "recipients": recipients})
}

type BroadcastRequest struct {
	Name       string   `json:"name" binding:"required"`
	InstanceID string   `json:"instance_id" binding:"required"`
	TemplateID string   `json:"template_id" binding:"required"`
	ContactIDs []string `json:"contact_ids"`
	TagID      string   `json:"tag_id"`
}

// CreateCampaign snapshots the recipients from contact_ids and/or every
// contact carrying tag_id.
func (h *BroadcastHandler) CreateCampaign(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	orgID := auth.OrgID(c)

	var tmpl models.MetaTemplate
	if err := h.DB.Where("organization_id = ? AND id = ?", orgID, req.TemplateID).First(&tmpl).Error; err != nil {
		respondError(c, err)
		return
	}
	if tmpl.Status != models.TemplateApproved {
		c.JSON(http.StatusConflict, gin.H{"error": "template is not approved"})
		return
	}
	var inst models.WhatsAppInstance
	if err := h.DB.Where("organization_id = ? AND id = ?", orgID, req.InstanceID).First(&inst).Error; err != nil {
		respondError(c, err)
		return
	}

	q := h.DB.Where("organization_id = ?", orgID)
	switch {
	case req.TagID != "" && len(req.ContactIDs) > 0:
		q = q.Where("id IN ? OR id IN (?)", req.ContactIDs, h.taggedContacts(req.TagID))
	case req.TagID != "":
		q = q.Where("id IN (?)", h.taggedContacts(req.TagID))
	case len(req.ContactIDs) > 0:
		q = q.Where("id IN ?", req.ContactIDs)
	default:
		badRequest(c, "contact_ids or tag_id is required")
		return
	}
	var contacts []models.Contact
	if err := q.Find(&contacts).Error; err != nil {
		respondError(c, err)
		return
	}
	if len(contacts) == 0 {
		badRequest(c, "no recipients")
		return
	}

	camp := models.Campaign{
		OrganizationID: orgID,
		Name:           req.Name,
		InstanceID:     inst.ID,
		TemplateID:     tmpl.ID,
		Status:         models.CampaignDraft,
		TotalCount:     len(contacts),
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&camp).Error; err != nil {
			return err
		}
		recipients := make([]models.CampaignRecipient, len(contacts))
		for i, ct := range contacts {
			recipients[i] = models.CampaignRecipient{
				OrganizationID: orgID,
				CampaignID:     camp.ID,
				ContactID:      ct.ID,
				Phone:          ct.Phone,
				Status:         "pending",
			}
		}
		return tx.CreateInBatches(recipients, 100).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, camp)
}

func (h *BroadcastHandler) taggedContacts(tagID string) *gorm.DB {
	return h.DB.Model(&models.TagAssignment{}).
		Select("target_id").
		Where("tag_id = ? AND target_type = ?", tagID, models.TargetContact)
}

// RunCampaign starts sending. Only draft or failed campaigns can run; the
// status flip is conditional so a double click starts one run.
func (h *BroadcastHandler) RunCampaign(c *gin.Context) {
	camp, ok := h.load(c)
	if !ok {
		return
	}
	now := time.Now()
	var started bool
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Campaign{}).
			Where("id = ? AND organization_id = ? AND status IN ?", camp.ID, camp.OrganizationID, []string{models.CampaignDraft, models.CampaignFailed}).
			Updates(map[string]interface{}{"status": models.CampaignRunning, "started_at": now})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		started = true
		if camp.Status != models.CampaignFailed {
			return nil
		}
		// retry the recipients that failed last time
		err := tx.Model(&models.CampaignRecipient{}).
			Where("campaign_id = ? AND organization_id = ? AND status = ?", camp.ID, camp.OrganizationID, "failed").
			Updates(map[string]interface{}{"status": "pending", "error": ""}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).
			Where("id = ? AND organization_id = ?", camp.ID, camp.OrganizationID).
			Update("failed_count", 0).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !started {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("campaign is %s", camp.Status)})
		return
	}
	id := camp.ID
	h.Dispatch(func() {
		if err := h.Run(context.Background(), id); err != nil {
			log.Printf("Campaign %s failed: %v", id, err)
		}
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "Campaign started"})
}

// Run sends the template to every pending recipient in order, then closes
// the campaign: completed if anything was sent, failed otherwise.
func (h *BroadcastHandler) Run(ctx context.Context, campaignID string) error {
	var camp models.Campaign
	if err := h.DB.WithContext(ctx).First(&camp, "id = ?", campaignID).Error; err != nil {
		return err
	}
	var tmpl models.MetaTemplate
	var inst models.WhatsAppInstance
	if err := h.DB.First(&tmpl, "id = ?", camp.TemplateID).Error; err != nil {
		return h.finish(camp, fmt.Errorf("template: %w", err))
	}
	if err := h.DB.First(&inst, "id = ?", camp.InstanceID).Error; err != nil {
		return h.finish(camp, fmt.Errorf("instance: %w", err))
	}

	var recipients []models.CampaignRecipient
	if err := h.DB.Where("campaign_id = ? AND status = ?", camp.ID, "pending").Order("id").Find(&recipients).Error; err != nil {
		return h.finish(camp, err)
	}
	components := json.RawMessage(tmpl.Components)
	for _, r := range recipients {
		if ctx.Err() != nil {
			break
		}
		updates := map[string]interface{}{}
		sent, err := h.Gateway.SendTemplate(ctx, inst.InstanceName, r.Phone, tmpl.Name, tmpl.Language, components)
		if err != nil {
			log.Printf("Failed to broadcast to %s: %v", r.Phone, err)
			updates["status"] = "failed"
			updates["error"] = err.Error()
			if err := h.bump(ctx, camp, "failed_count"); err != nil {
				return h.finish(camp, err)
			}
		} else {
			now := time.Now()
			updates["status"] = "sent"
			updates["sent_at"] = now
			if err := h.bump(ctx, camp, "sent_count"); err != nil {
				return h.finish(camp, err)
			}
			_, recErr := h.Inbox.RecordMessage(ctx, inbox.Record{
				OrgID:      camp.OrganizationID,
				InstanceID: inst.ID,
				Phone:      r.Phone,
				Direction:  models.DirectionOutbound,
				Body:       "[template] " + tmpl.Name,
				Type:       "template",
				ExternalID: sent.Key.ID,
				Status:     "sent",
			})
			if recErr != nil {
				log.Printf("Error recording campaign message: %v", recErr)
			}
			if err := h.Warming.RecordTraffic(ctx, camp.OrganizationID, inst.ID, 1, 0); err != nil {
				log.Printf("Error recording warming traffic: %v", err)
			}
		}
		err = h.DB.WithContext(ctx).Model(&models.CampaignRecipient{}).
			Where("id = ? AND organization_id = ?", r.ID, camp.OrganizationID).
			Updates(updates).Error
		if err != nil {
			return h.finish(camp, fmt.Errorf("recipient %s: %w", r.Phone, err))
		}
	}
	return h.finish(camp, nil)
}

func (h *BroadcastHandler) bump(ctx context.Context, camp models.Campaign, column string) error {
	return h.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND organization_id = ?", camp.ID, camp.OrganizationID).
		Update(column, gorm.Expr(column+" + 1")).Error
}

func (h *BroadcastHandler) finish(camp models.Campaign, cause error) error {
	if err := h.DB.First(&camp, "id = ?", camp.ID).Error; err != nil {
		log.Printf("Error reloading campaign %s: %v", camp.ID, err)
	}
	status := models.CampaignCompleted
	if cause != nil || (camp.SentCount == 0 && camp.TotalCount > 0) {
		status = models.CampaignFailed
	}
	now := time.Now()
	err := h.DB.Model(&camp).Updates(map[string]interface{}{"status": status, "finished_at": now}).Error
	if h.Pub != nil {
		realtime.Notify(h.Pub, camp.OrganizationID, "Campanha finalizada",
			fmt.Sprintf("%s: %d enviadas, %d falhas", camp.Name, camp.SentCount, camp.FailedCount))
	}
	if cause != nil {
		return cause
	}
	return err
}
