package api

import (
	"bytes"
	"net/http"
	"testing"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
	"zapcrm/internal/whatsapp"
)

func TestInstanceLifecycle(t *testing.T) {
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	gw := newFakeGateway()
	h := NewWhatsAppHandler(db, gw)
	r := testutil.Router(admin)
	r.POST("/instances", h.CreateInstance)
	r.GET("/instances/:id/qr.png", h.GetQRCodePNG)
	r.POST("/instances/:id/refresh", h.Refresh)
	r.DELETE("/instances/:id", h.DeleteInstance)

	expect(t, do(t, r, http.MethodPost, "/instances", map[string]string{"name": "x"}), http.StatusBadRequest)

	w := do(t, r, http.MethodPost, "/instances", map[string]string{"name": "Loja-Centro"})
	expect(t, w, http.StatusCreated)
	var inst models.WhatsAppInstance
	decode(t, w, &inst)
	if inst.InstanceName != "loja-centro" || inst.Status != models.InstanceConnecting || inst.QRCode != gw.qr {
		t.Fatalf("instance = %+v", inst)
	}
	expect(t, do(t, r, http.MethodPost, "/instances", map[string]string{"name": "loja-centro"}), http.StatusConflict)

	w = do(t, r, http.MethodGet, "/instances/"+inst.ID+"/qr.png", nil)
	expect(t, w, http.StatusOK)
	if w.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("not a png: %q", w.Header().Get("Content-Type"))
	}

	gw.state = "open"
	w = do(t, r, http.MethodPost, "/instances/"+inst.ID+"/refresh", nil)
	expect(t, w, http.StatusOK)
	decode(t, w, &inst)
	if inst.Status != models.InstanceConnected {
		t.Fatalf("after refresh: %+v", inst)
	}
	expect(t, do(t, r, http.MethodGet, "/instances/"+inst.ID+"/qr.png", nil), http.StatusNotFound)

	db.Create(&models.WarmingSchedule{OrganizationID: inst.OrganizationID, InstanceID: inst.ID, TargetDays: 10})
	gw.deleteErr = &whatsapp.APIError{Status: http.StatusNotFound, Body: "not found"}
	expect(t, do(t, r, http.MethodDelete, "/instances/"+inst.ID, nil), http.StatusOK)
	var n int64
	db.Model(&models.WarmingSchedule{}).Count(&n)
	if n != 0 {
		t.Errorf("schedules left = %d", n)
	}
}

func TestDeleteInstanceGatewayFailure(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	gw := newFakeGateway()
	gw.deleteErr = &whatsapp.APIError{Status: http.StatusInternalServerError, Body: "boom"}
	h := NewWhatsAppHandler(db, gw)
	r := testutil.Router(admin)
	r.DELETE("/instances/:id", h.DeleteInstance)

	inst := models.WhatsAppInstance{OrganizationID: org.ID, InstanceName: "loja"}
	db.Create(&inst)
	expect(t, do(t, r, http.MethodDelete, "/instances/"+inst.ID, nil), http.StatusBadGateway)
}
