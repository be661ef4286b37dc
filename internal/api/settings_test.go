package api

import (
	"net/http"
	"testing"

	"zapcrm/internal/auth"
	"zapcrm/internal/config"
	"zapcrm/internal/models"
	"zapcrm/internal/testutil"

	"github.com/gin-gonic/gin"
)

func settingsRouter(cfg *config.Config, h *SettingsHandler, p models.Profile) *gin.Engine {
	r := testutil.Router(p)
	r.GET("/settings", auth.PlatformOnly(cfg.PlatformOrgID), h.GetSettings)
	r.PUT("/settings", auth.PlatformOnly(cfg.PlatformOrgID), h.UpdateSetting)
	return r
}

func TestSharedSettingsNeedPlatformAdmin(t *testing.T) {
	db := testutil.DB(t)
	ops, opsAdmin, _ := testutil.Org(t, db, "Operadora")
	_, tenantAdmin, _ := testutil.Org(t, db, "Loja")
	cfg := &config.Config{GatewayURL: "http://gateway.internal", PlatformOrgID: ops.ID}
	h := NewSettingsHandler(db, cfg)

	tenant := settingsRouter(cfg, h, tenantAdmin)
	body := map[string]string{"key": "GATEWAY_URL", "value": "http://attacker.example"}
	expect(t, do(t, tenant, http.MethodPut, "/settings", body), http.StatusForbidden)
	expect(t, do(t, tenant, http.MethodGet, "/settings", nil), http.StatusForbidden)
	if got := cfg.Setting("GATEWAY_URL"); got != "http://gateway.internal" {
		t.Fatalf("GATEWAY_URL changed by tenant: %q", got)
	}

	operator := settingsRouter(cfg, h, opsAdmin)
	body["value"] = "http://gateway-2.internal"
	expect(t, do(t, operator, http.MethodPut, "/settings", body), http.StatusOK)
	if got := cfg.Setting("GATEWAY_URL"); got != "http://gateway-2.internal" {
		t.Errorf("GATEWAY_URL = %q", got)
	}

	w := do(t, operator, http.MethodGet, "/settings", nil)
	expect(t, w, http.StatusOK)
	var out []models.SystemSetting
	decode(t, w, &out)
	if len(out) != len(config.SettingKeys) {
		t.Errorf("settings = %+v", out)
	}
}
