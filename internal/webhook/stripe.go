package webhook

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"zapcrm/internal/billing"

	"github.com/gin-gonic/gin"
)

const maxPaymentBody = 1 << 20

// PaymentHandler receives payment processor webhooks.
type PaymentHandler struct {
	Secret  string
	Billing *billing.Service
	Now     func() time.Time
}

func NewPaymentHandler(secret string, svc *billing.Service) *PaymentHandler {
	return &PaymentHandler{Secret: secret, Billing: svc, Now: time.Now}
}

func (h *PaymentHandler) HandleStripe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPaymentBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	if h.Secret == "" {
		log.Println("Payment webhook received but STRIPE_WEBHOOK_SECRET is not set")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret not configured"})
		return
	}
	if err := billing.VerifySignature(body, c.GetHeader("Stripe-Signature"), h.Secret, h.Now()); err != nil {
		log.Printf("Rejected payment webhook: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ev billing.Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}
	if err := h.Billing.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Printf("Error applying payment event %s: %v", ev.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
