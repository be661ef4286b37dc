package api

import (
	"net/http"

	"zapcrm/internal/config"
	"zapcrm/internal/database"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SettingsHandler edits the runtime settings kept in system_settings.
type SettingsHandler struct {
	DB     *gorm.DB
	Config *config.Config
}

func NewSettingsHandler(db *gorm.DB, cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{DB: db, Config: cfg}
}

// GetSettings returns every editable key with its stored value. Secrets are
// masked.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	var stored []models.SystemSetting
	if err := h.DB.Find(&stored).Error; err != nil {
		respondError(c, err)
		return
	}
	values := map[string]string{}
	for _, s := range stored {
		values[s.Key] = s.Value
	}
	out := []models.SystemSetting{}
	for _, key := range config.SettingKeys {
		v := values[key]
		if key == "GATEWAY_API_KEY" && v != "" {
			v = "********"
		}
		out = append(out, models.SystemSetting{Key: key, Value: v})
	}
	c.JSON(http.StatusOK, out)
}

// UpdateSetting updates a specific system setting
func (h *SettingsHandler) UpdateSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := database.SaveSetting(h.DB, h.Config, req.Key, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Setting updated"})
}
