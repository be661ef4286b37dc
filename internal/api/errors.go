package api

import (
	"errors"
	"log"
	"net/http"

	"zapcrm/internal/ai"
	"zapcrm/internal/billing"
	"zapcrm/internal/database"
	"zapcrm/internal/fields"
	"zapcrm/internal/geo"
	"zapcrm/internal/storage"
	"zapcrm/internal/warming"
	"zapcrm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var errNotFound = errors.New("not found")

// statusOf maps service and upstream errors to a status code.
func statusOf(err error) int {
	var apiErr *whatsapp.APIError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrUnknownPlan),
		errors.Is(err, fields.ErrInvalidValue),
		errors.Is(err, geo.ErrInvalidUF),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, warming.ErrInvalidTarget),
		errors.Is(err, database.ErrUnknownSetting):
		return http.StatusBadRequest
	case errors.Is(err, errConflict), errors.Is(err, errNoInstance),
		errors.Is(err, warming.ErrScheduleExists), errors.Is(err, warming.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &apiErr), errors.Is(err, billing.ErrPriceNotConfigured):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body with the mapped status.
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= 500 {
		log.Printf("API error on %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondUpstream is respondError for calls to external providers, where an
// unclassified failure is the provider's.
func respondUpstream(c *gin.Context, err error) {
	if statusOf(err) == http.StatusInternalServerError {
		log.Printf("Upstream error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	respondError(c, err)
}

var errConflict = errors.New("conflict")

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
