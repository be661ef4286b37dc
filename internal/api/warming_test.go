package api

import (
	"net/http"
	"testing"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func TestWarmingSchedules(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	other, _, _ := testutil.Org(t, db, "Outra")
	h := NewWarmingHandler(db)
	r := testutil.Router(admin)
	r.POST("/warming", h.CreateSchedule)
	r.POST("/warming/:id/pause", h.Pause)
	r.POST("/warming/:id/resume", h.Resume)

	inst := models.WhatsAppInstance{OrganizationID: org.ID, InstanceName: "loja"}
	foreign := models.WhatsAppInstance{OrganizationID: other.ID, InstanceName: "outra"}
	db.Create(&inst)
	db.Create(&foreign)

	expect(t, do(t, r, http.MethodPost, "/warming", map[string]interface{}{"instance_id": foreign.ID, "target_days": 14}), http.StatusNotFound)
	expect(t, do(t, r, http.MethodPost, "/warming", map[string]interface{}{"instance_id": inst.ID, "target_days": 120}), http.StatusBadRequest)

	w := do(t, r, http.MethodPost, "/warming", map[string]interface{}{"instance_id": inst.ID, "target_days": 14})
	expect(t, w, http.StatusCreated)
	var sched models.WarmingSchedule
	decode(t, w, &sched)
	if sched.CurrentDay != 1 || sched.Status != models.WarmingActive {
		t.Fatalf("schedule = %+v", sched)
	}
	expect(t, do(t, r, http.MethodPost, "/warming", map[string]interface{}{"instance_id": inst.ID, "target_days": 14}), http.StatusConflict)

	w = do(t, r, http.MethodPost, "/warming/"+sched.ID+"/pause", nil)
	expect(t, w, http.StatusOK)
	decode(t, w, &sched)
	if sched.Status != models.WarmingPaused || sched.Version != 1 {
		t.Fatalf("paused = %+v", sched)
	}
	expect(t, do(t, r, http.MethodPost, "/warming/"+sched.ID+"/pause", nil), http.StatusConflict)
	expect(t, do(t, r, http.MethodPost, "/warming/"+sched.ID+"/resume", nil), http.StatusOK)
}
