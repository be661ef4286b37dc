package api

import (
	"net/http"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"
	"zapcrm/internal/warming"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type WarmingHandler struct {
	DB      *gorm.DB
	Service *warming.Service
}

func NewWarmingHandler(db *gorm.DB) *WarmingHandler {
	return &WarmingHandler{DB: db, Service: warming.NewService(db)}
}

func (h *WarmingHandler) GetSchedules(c *gin.Context) {
	schedules := []models.WarmingSchedule{}
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if id := c.Query("instance_id"); id != "" {
		q = q.Where("instance_id = ?", id)
	}
	if err := q.Order("created_at DESC").Find(&schedules).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

type ScheduleRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
	TargetDays int    `json:"target_days" binding:"required"`
}

func (h *WarmingHandler) CreateSchedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	orgID := auth.OrgID(c)
	var inst models.WhatsAppInstance
	if err := h.DB.Where("organization_id = ? AND id = ?", orgID, req.InstanceID).First(&inst).Error; err != nil {
		respondError(c, err)
		return
	}
	sched, err := h.Service.Create(c.Request.Context(), orgID, inst.ID, req.TargetDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *WarmingHandler) load(c *gin.Context) (models.WarmingSchedule, bool) {
	var s models.WarmingSchedule
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&s).Error
	if err != nil {
		respondError(c, err)
		return s, false
	}
	return s, true
}

func (h *WarmingHandler) setStatus(c *gin.Context, status string) {
	sched, ok := h.load(c)
	if !ok {
		return
	}
	sched, err := h.Service.SetStatus(c.Request.Context(), sched, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *WarmingHandler) Pause(c *gin.Context)  { h.setStatus(c, models.WarmingPaused) }
func (h *WarmingHandler) Resume(c *gin.Context) { h.setStatus(c, models.WarmingActive) }

func (h *WarmingHandler) DeleteSchedule(c *gin.Context) {
	sched, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(&sched).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Schedule deleted"})
}

// Advance runs the daily advance on demand; the cron job calls the same
// service.
func (h *WarmingHandler) Advance(c *gin.Context) {
	res, err := h.Service.AdvanceAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
