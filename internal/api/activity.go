package api

import (
	"errors"
	"net/http"
	"time"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"
	"zapcrm/internal/permissions"
	"zapcrm/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ActivityHandler struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewActivityHandler(db *gorm.DB) *ActivityHandler {
	return &ActivityHandler{DB: db, Now: time.Now}
}

func validSessionType(t string) bool {
	switch t {
	case models.ActivityWork, models.ActivityBreak, models.ActivityLunch:
		return true
	}
	return false
}

// closeOpen ends every open session of the user at now.
func closeOpen(tx *gorm.DB, userID string, now time.Time) error {
	var open []models.UserActivitySession
	if err := tx.Where("user_id = ? AND ended_at IS NULL", userID).Find(&open).Error; err != nil {
		return err
	}
	for _, s := range open {
		dur := int64(now.Sub(s.StartedAt).Seconds())
		if dur < 0 {
			dur = 0
		}
		err := tx.Model(&s).Updates(map[string]interface{}{"ended_at": now, "duration_seconds": dur}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// lockUser serializes session changes of one user on the profile row.
func lockUser(tx *gorm.DB, userID string, now time.Time) error {
	return tx.Model(&models.Profile{}).Where("id = ?", userID).Update("updated_at", now).Error
}

type StartSessionRequest struct {
	SessionType string `json:"session_type" binding:"required"`
}

// StartSession closes the caller's open session, if any, and opens a new
// one, so a user never has two open sessions.
func (h *ActivityHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validSessionType(req.SessionType) {
		badRequest(c, "session_type must be work, break or lunch")
		return
	}
	userID := auth.UserID(c)
	now := h.Now()
	session := models.UserActivitySession{
		OrganizationID: auth.OrgID(c),
		UserID:         userID,
		SessionType:    req.SessionType,
		StartedAt:      now,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID, now); err != nil {
			return err
		}
		if err := closeOpen(tx, userID, now); err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *ActivityHandler) EndSession(c *gin.Context) {
	userID := auth.UserID(c)
	now := h.Now()
	var ended models.UserActivitySession
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID, now); err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND ended_at IS NULL", userID).First(&ended).Error; err != nil {
			return err
		}
		if err := closeOpen(tx, userID, now); err != nil {
			return err
		}
		return tx.First(&ended, "id = ?", ended.ID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open session"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

func (h *ActivityHandler) CurrentSession(c *gin.Context) {
	var s models.UserActivitySession
	err := h.DB.Where("user_id = ? AND ended_at IS NULL", auth.UserID(c)).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

type ActivityTotal struct {
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
	Sessions    int64  `json:"sessions"`
	Seconds     int64  `json:"seconds"`
	Formatted   string `json:"formatted"`
}

// Report sums closed session durations per user and type for sessions
// started in [from, to]. Members only see their own totals.
func (h *ActivityHandler) Report(c *gin.Context) {
	now := h.Now()
	from := now.AddDate(0, 0, -7)
	to := now
	if v := c.Query("from"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			badRequest(c, "invalid from date")
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			badRequest(c, "invalid to date")
			return
		}
		if len(v) == len("2006-01-02") || len(v) == len("02/01/2006") {
			t = t.Add(24*time.Hour - time.Second)
		}
		to = t
	}

	q := h.DB.Model(&models.UserActivitySession{}).
		Select("user_id, session_type, COUNT(*) AS sessions, COALESCE(SUM(duration_seconds), 0) AS seconds").
		Where("organization_id = ? AND ended_at IS NOT NULL AND started_at BETWEEN ? AND ?", auth.OrgID(c), from, to)
	if auth.Role(c) != permissions.RoleAdmin {
		q = q.Where("user_id = ?", auth.UserID(c))
	} else if u := c.Query("user_id"); u != "" {
		q = q.Where("user_id = ?", u)
	}
	totals := []ActivityTotal{}
	if err := q.Group("user_id, session_type").Order("user_id, session_type").Scan(&totals).Error; err != nil {
		respondError(c, err)
		return
	}
	for i := range totals {
		totals[i].Formatted = utils.FormatDuration(totals[i].Seconds)
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "totals": totals})
}
