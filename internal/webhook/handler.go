package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"zapcrm/internal/automation"
	"zapcrm/internal/config"
	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/realtime"
	"zapcrm/internal/utils"
	"zapcrm/internal/warming"
	"zapcrm/internal/whatsapp"
	payload "zapcrm/pkg/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const automationTimeout = 30 * time.Second

// Handler receives events posted by the WhatsApp gateway.
type Handler struct {
	DB               *gorm.DB
	Config           *config.Config
	Inbox            *inbox.Service
	AutomationEngine *automation.Engine
	Warming          *warming.Service
	Pub              realtime.Publisher

	// Dispatch runs automation off the request path. Tests replace it with
	// a synchronous call.
	Dispatch func(func())
}

func NewHandler(db *gorm.DB, cfg *config.Config, automationEngine *automation.Engine, pub realtime.Publisher) *Handler {
	return &Handler{
		DB:               db,
		Config:           cfg,
		Inbox:            inbox.NewService(db),
		AutomationEngine: automationEngine,
		Warming:          warming.NewService(db),
		Pub:              pub,
		Dispatch:         func(f func()) { go f() },
	}
}

func (h *Handler) authorized(c *gin.Context, p payload.WebhookPayload) bool {
	want := h.Config.Setting("GATEWAY_API_KEY")
	if want == "" {
		return true
	}
	got := c.GetHeader("apikey")
	if got == "" {
		got = p.APIKey
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// HandleGateway processes one gateway event. Events for unknown instances
// are acknowledged and dropped so the gateway does not retry them.
func (h *Handler) HandleGateway(c *gin.Context) {
	var p payload.WebhookPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		log.Printf("Error binding JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !h.authorized(c, p) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	var inst models.WhatsAppInstance
	err := h.DB.Where("instance_name = ?", p.Instance).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Webhook for unknown instance %q (%s)", p.Instance, p.Event)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch p.NormalizedEvent() {
	case payload.EventMessagesUpsert:
		var data payload.MessageData
		if err = json.Unmarshal(p.Data, &data); err == nil {
			err = h.handleMessage(ctx, inst, data)
		}
	case payload.EventMessagesUpdate:
		var data payload.StatusData
		if err = json.Unmarshal(p.Data, &data); err == nil {
			if status := data.DeliveryStatus(); status != "" && data.KeyID != "" {
				err = h.Inbox.UpdateStatus(ctx, inst.OrganizationID, data.KeyID, status)
			}
		}
	case payload.EventConnectionUpdate:
		var data payload.ConnectionData
		if err = json.Unmarshal(p.Data, &data); err == nil {
			err = h.handleConnection(ctx, inst, data)
		}
	case payload.EventQRCodeUpdated:
		var data payload.QRCodeData
		if err = json.Unmarshal(p.Data, &data); err == nil {
			err = h.DB.WithContext(ctx).Model(&inst).Updates(map[string]interface{}{
				"qr_code": data.QRCode.Code,
				"status":  models.InstanceConnecting,
			}).Error
		}
	default:
		log.Printf("Ignoring gateway event %s", p.Event)
	}
	if err != nil {
		log.Printf("Error handling %s for %s: %v", p.Event, p.Instance, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleConnection(ctx context.Context, inst models.WhatsAppInstance, data payload.ConnectionData) error {
	status, ok := whatsapp.InstanceStatus(data.State)
	if !ok {
		log.Printf("Ignoring connection state %q for %s", data.State, inst.InstanceName)
		return nil
	}
	prev := inst.Status
	updates := map[string]interface{}{"status": status}
	switch status {
	case models.InstanceConnected:
		updates["qr_code"] = ""
		if phone := utils.PhoneFromJID(data.WUID); phone != "" {
			updates["phone"] = phone
		}
	case models.InstanceDisconnected:
		updates["qr_code"] = ""
	}
	if err := h.DB.WithContext(ctx).Model(&inst).Updates(updates).Error; err != nil {
		return err
	}
	if prev != status && status == models.InstanceDisconnected {
		realtime.Notify(h.Pub, inst.OrganizationID, "WhatsApp desconectado", inst.InstanceName)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, inst models.WhatsAppInstance, data payload.MessageData) error {
	if !data.Key.IsDirect() {
		return nil
	}
	phone := utils.PhoneFromJID(data.Key.RemoteJID)
	if phone == "" {
		return nil
	}
	body, kind := data.Content()

	rec := inbox.Record{
		OrgID:      inst.OrganizationID,
		InstanceID: inst.ID,
		Phone:      phone,
		Body:       body,
		Type:       kind,
		ExternalID: data.Key.ID,
	}
	if data.Key.FromMe {
		rec.Direction = models.DirectionOutbound
		rec.Status = "sent"
	} else {
		rec.Direction = models.DirectionInbound
		rec.PushName = data.PushName
		rec.Status = "received"
	}
	res, err := h.Inbox.RecordMessage(ctx, rec)
	if err != nil {
		return err
	}
	if res.Duplicate {
		return nil
	}

	if data.Key.FromMe {
		if err := h.Warming.RecordTraffic(ctx, inst.OrganizationID, inst.ID, 1, 0); err != nil {
			log.Printf("Error recording warming traffic: %v", err)
		}
		return nil
	}
	if err := h.Warming.RecordTraffic(ctx, inst.OrganizationID, inst.ID, 0, 1); err != nil {
		log.Printf("Error recording warming traffic: %v", err)
	}

	title := res.Contact.Name
	if title == "" {
		title = utils.FormatPhoneNumber(phone)
	}
	realtime.Notify(h.Pub, inst.OrganizationID, title, utils.Truncate(body, 120))

	if h.AutomationEngine != nil && kind == "text" && body != "" {
		in := automation.Inbound{
			OrgID:     inst.OrganizationID,
			Instance:  inst.InstanceName,
			Phone:     res.Contact.Phone,
			ContactID: res.Contact.ID,
			Name:      res.Contact.Name,
			Text:      body,
		}
		h.Dispatch(func() {
			actx, cancel := context.WithTimeout(context.Background(), automationTimeout)
			defer cancel()
			if _, err := h.AutomationEngine.Process(actx, in); err != nil {
				log.Printf("Automation error for %s: %v", in.Phone, err)
			}
		})
	}
	return nil
}
