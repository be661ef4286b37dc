package api

import (
	"net/http"

	"zapcrm/internal/auth"
	"zapcrm/internal/billing"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type BillingHandler struct {
	DB      *gorm.DB
	Client  *billing.Client
	Service *billing.Service
}

func NewBillingHandler(db *gorm.DB, client *billing.Client) *BillingHandler {
	return &BillingHandler{DB: db, Client: client, Service: billing.NewService(db, client.Catalog)}
}

func (h *BillingHandler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, h.Client.Catalog.List())
}

// Checkout opens a hosted checkout for the caller's organization and
// returns its URL.
func (h *BillingHandler) Checkout(c *gin.Context) {
	var req billing.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.OrgID = auth.OrgID(c)

	var profile models.Profile
	if err := h.DB.Where("id = ?", auth.UserID(c)).Limit(1).Find(&profile).Error; err != nil {
		respondError(c, err)
		return
	}
	req.Email = profile.Email

	session, err := h.Client.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *BillingHandler) GetSubscription(c *gin.Context) {
	sub, balance, err := h.Service.Subscription(c.Request.Context(), auth.OrgID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub, "token_balance": balance})
}

// GetMetrics is admin only.
func (h *BillingHandler) GetMetrics(c *gin.Context) {
	m, err := h.Service.Metrics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
