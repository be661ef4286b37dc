package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"zapcrm/internal/models"
	"zapcrm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Gateway is the part of the WhatsApp gateway client the handlers use.
// *whatsapp.Client implements it.
type Gateway interface {
	CreateInstance(ctx context.Context, name string) (*whatsapp.CreateInstanceResponse, error)
	ConnectInstance(ctx context.Context, name string) (*whatsapp.QRCode, error)
	InstanceState(ctx context.Context, name string) (string, error)
	LogoutInstance(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	SendText(ctx context.Context, instance, number, text string) (*whatsapp.SendResult, error)
	SendTemplate(ctx context.Context, instance, number, name, language string, components json.RawMessage) (*whatsapp.SendResult, error)
	FetchProfilePicture(ctx context.Context, instance, number string) (string, error)
}

var errNoInstance = errors.New("no connected WhatsApp instance")

// connectedInstance picks the instance to talk through: the preferred one if
// given, else the oldest connected instance of the organization.
func connectedInstance(db *gorm.DB, orgID, preferred string) (models.WhatsAppInstance, error) {
	var inst models.WhatsAppInstance
	q := db.Where("organization_id = ? AND status = ?", orgID, models.InstanceConnected)
	if preferred != "" {
		q = q.Where("id = ?", preferred)
	}
	err := q.Order("created_at").First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inst, errNoInstance
	}
	return inst, err
}

// page reads limit/offset query parameters.
func page(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
