package api

import (
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"
	"zapcrm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

var instanceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,62}$`)

// WhatsAppHandler manages gateway instances.
type WhatsAppHandler struct {
	DB      *gorm.DB
	Gateway Gateway
}

func NewWhatsAppHandler(db *gorm.DB, gw Gateway) *WhatsAppHandler {
	return &WhatsAppHandler{DB: db, Gateway: gw}
}

func (h *WhatsAppHandler) GetInstances(c *gin.Context) {
	instances := []models.WhatsAppInstance{}
	if err := h.DB.Where("organization_id = ?", auth.OrgID(c)).Order("created_at").Find(&instances).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

type CreateInstanceRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateInstance registers the instance at the gateway, then stores it as
// connecting with the first QR code when the gateway returns one.
func (h *WhatsAppHandler) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if !instanceNamePattern.MatchString(name) {
		badRequest(c, "instance name must be 3-63 lowercase letters, digits, '-' or '_'")
		return
	}
	var n int64
	h.DB.Model(&models.WhatsAppInstance{}).Where("instance_name = ?", name).Count(&n)
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "instance name already taken"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Gateway.CreateInstance(ctx, name); err != nil {
		respondError(c, err)
		return
	}
	inst := models.WhatsAppInstance{
		OrganizationID: auth.OrgID(c),
		InstanceName:   name,
		Status:         models.InstanceConnecting,
	}
	if qr, err := h.Gateway.ConnectInstance(ctx, name); err == nil {
		inst.QRCode = qr.Code
	} else {
		log.Printf("No QR code yet for %s: %v", name, err)
	}
	if err := h.DB.Create(&inst).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (h *WhatsAppHandler) load(c *gin.Context) (models.WhatsAppInstance, bool) {
	var inst models.WhatsAppInstance
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&inst).Error
	if err != nil {
		respondError(c, err)
		return inst, false
	}
	return inst, true
}

// qrCode returns the stored code, asking the gateway for a fresh one when
// none is stored and the instance is not connected.
func (h *WhatsAppHandler) qrCode(c *gin.Context, inst *models.WhatsAppInstance) (string, error) {
	if inst.Status == models.InstanceConnected {
		return "", nil
	}
	if inst.QRCode != "" {
		return inst.QRCode, nil
	}
	qr, err := h.Gateway.ConnectInstance(c.Request.Context(), inst.InstanceName)
	if err != nil {
		return "", err
	}
	inst.QRCode = qr.Code
	inst.Status = models.InstanceConnecting
	return qr.Code, h.DB.Model(inst).Updates(map[string]interface{}{
		"qr_code": qr.Code,
		"status":  models.InstanceConnecting,
	}).Error
}

func (h *WhatsAppHandler) GetQRCode(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	code, err := h.qrCode(c, &inst)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": inst.Status, "code": code})
}

// GetQRCodePNG renders the pairing code as a PNG image.
func (h *WhatsAppHandler) GetQRCodePNG(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	code, err := h.qrCode(c, &inst)
	if err != nil {
		respondError(c, err)
		return
	}
	if code == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no QR code available"})
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// Connect asks the gateway for a new pairing session.
func (h *WhatsAppHandler) Connect(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	qr, err := h.Gateway.ConnectInstance(c.Request.Context(), inst.InstanceName)
	if err != nil {
		respondError(c, err)
		return
	}
	err = h.DB.Model(&inst).Updates(map[string]interface{}{
		"qr_code": qr.Code,
		"status":  models.InstanceConnecting,
	}).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.InstanceConnecting, "code": qr.Code, "pairing_code": qr.PairingCode})
}

// Refresh polls the gateway state, for when a webhook was missed.
func (h *WhatsAppHandler) Refresh(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	state, err := h.Gateway.InstanceState(c.Request.Context(), inst.InstanceName)
	if err != nil {
		respondError(c, err)
		return
	}
	if status, known := whatsapp.InstanceStatus(state); known && status != inst.Status {
		updates := map[string]interface{}{"status": status}
		if status == models.InstanceConnected {
			updates["qr_code"] = ""
		}
		if err := h.DB.Model(&inst).Updates(updates).Error; err != nil {
			respondError(c, err)
			return
		}
		inst.Status = status
	}
	c.JSON(http.StatusOK, inst)
}

func (h *WhatsAppHandler) Logout(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.Gateway.LogoutInstance(c.Request.Context(), inst.InstanceName); err != nil {
		respondError(c, err)
		return
	}
	err := h.DB.Model(&inst).Updates(map[string]interface{}{
		"status":  models.InstanceDisconnected,
		"qr_code": "",
	}).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Instance logged out"})
}

// DeleteInstance removes the instance from the gateway, then the row and
// its warming schedules. A gateway 404 means it is already gone there.
func (h *WhatsAppHandler) DeleteInstance(c *gin.Context) {
	inst, ok := h.load(c)
	if !ok {
		return
	}
	err := h.Gateway.DeleteInstance(c.Request.Context(), inst.InstanceName)
	var apiErr *whatsapp.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound) {
		respondError(c, err)
		return
	}
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var schedules []models.WarmingSchedule
		if err := tx.Where("instance_id = ?", inst.ID).Find(&schedules).Error; err != nil {
			return err
		}
		for i := range schedules {
			if err := tx.Delete(&schedules[i]).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&inst).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Instance deleted"})
}
