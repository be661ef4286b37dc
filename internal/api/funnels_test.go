package api

import (
	"net/http"
	"testing"
	"time"

	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/testutil"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func funnelRouter(t *testing.T) (*gorm.DB, *gin.Engine, time.Time) {
	t.Helper()
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	h := NewFunnelHandler(db)
	h.Now = func() time.Time { return now }
	r := testutil.Router(admin)
	r.POST("/funnels", h.CreateFunnel)
	r.POST("/deals", h.CreateDeal)
	r.POST("/deals/:id/move", h.MoveDeal)
	r.PUT("/deals/:id", h.UpdateDeal)
	r.GET("/funnels/:id/metrics", h.GetMetrics)
	r.DELETE("/stages/:stageId", h.DeleteStage)
	return db, r, now
}

func createFunnel(t *testing.T, r *gin.Engine, name string) models.Funnel {
	t.Helper()
	w := do(t, r, http.MethodPost, "/funnels", map[string]string{"name": name})
	expect(t, w, http.StatusCreated)
	var f models.Funnel
	decode(t, w, &f)
	if len(f.Stages) != 4 {
		t.Fatalf("stages = %+v", f.Stages)
	}
	return f
}

func TestMoveDealAcrossStages(t *testing.T) {
	_, r, now := funnelRouter(t)
	sales := createFunnel(t, r, "Vendas")
	other := createFunnel(t, r, "Pós-venda")

	w := do(t, r, http.MethodPost, "/deals", map[string]interface{}{"funnel_id": sales.ID, "title": "Pedido 1", "value": 1500})
	expect(t, w, http.StatusCreated)
	var deal models.Deal
	decode(t, w, &deal)
	if deal.StageID != sales.Stages[0].ID || deal.Status != models.DealOpen {
		t.Fatalf("deal = %+v", deal)
	}

	w = do(t, r, http.MethodPost, "/deals/"+deal.ID+"/move", map[string]string{"stage_id": other.Stages[1].ID})
	expect(t, w, http.StatusBadRequest)

	won := sales.Stages[2]
	w = do(t, r, http.MethodPost, "/deals/"+deal.ID+"/move", map[string]string{"stage_id": won.ID})
	expect(t, w, http.StatusOK)
	decode(t, w, &deal)
	if deal.Status != models.DealWon || deal.ClosedAt == nil || !deal.ClosedAt.Equal(now) {
		t.Fatalf("after won: %+v", deal)
	}

	w = do(t, r, http.MethodPost, "/deals/"+deal.ID+"/move", map[string]string{"stage_id": sales.Stages[1].ID})
	expect(t, w, http.StatusOK)
	decode(t, w, &deal)
	if deal.Status != models.DealOpen || deal.ClosedAt != nil {
		t.Fatalf("after reopen: %+v", deal)
	}

	w = do(t, r, http.MethodDelete, "/stages/"+sales.Stages[1].ID, nil)
	expect(t, w, http.StatusConflict)
}

func TestFunnelMetrics(t *testing.T) {
	_, r, _ := funnelRouter(t)
	f := createFunnel(t, r, "Vendas")

	deal := func(title string, value float64, stage int) {
		w := do(t, r, http.MethodPost, "/deals", map[string]interface{}{
			"funnel_id": f.ID, "stage_id": f.Stages[stage].ID, "title": title, "value": value,
		})
		expect(t, w, http.StatusCreated)
	}
	deal("a", 100, 0)
	deal("b", 200, 2)
	deal("c", 300, 2)
	deal("d", 400, 3)

	w := do(t, r, http.MethodGet, "/funnels/"+f.ID+"/metrics", nil)
	expect(t, w, http.StatusOK)
	var m FunnelMetrics
	decode(t, w, &m)
	if m.TotalCount != 4 || m.TotalValue != 1000 {
		t.Errorf("totals = %d / %v", m.TotalCount, m.TotalValue)
	}
	if m.WonCount != 2 || m.WonValue != 500 || m.LostCount != 1 {
		t.Errorf("won/lost = %+v", m)
	}
	if m.ConversionRate < 0.666 || m.ConversionRate > 0.667 {
		t.Errorf("conversion = %v", m.ConversionRate)
	}
	if m.Stages[2].Count != 2 || m.Stages[1].Count != 0 {
		t.Errorf("stages = %+v", m.Stages)
	}
}

func TestApplyStageRejectsOtherFunnel(t *testing.T) {
	deal := models.Deal{FunnelID: "f1", Status: models.DealOpen}
	if err := applyStage(&deal, models.FunnelStage{FunnelID: "f2"}, time.Now()); err != errStageMismatch {
		t.Fatalf("err = %v", err)
	}
	closed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deal.ClosedAt = &closed
	applyStage(&deal, models.FunnelStage{Base: models.Base{ID: "s"}, FunnelID: "f1", IsLost: true}, time.Now())
	if deal.Status != models.DealLost || !deal.ClosedAt.Equal(closed) {
		t.Errorf("closing an already closed deal should keep closed_at: %+v", deal)
	}
}

func TestDealContactMustBelongToOrganization(t *testing.T) {
	db, r, _ := funnelRouter(t)
	sales := createFunnel(t, r, "Vendas")

	var org models.Organization
	if err := db.Where("name = ?", "Loja").First(&org).Error; err != nil {
		t.Fatal(err)
	}
	own, _, err := inbox.UpsertContact(db, org.ID, "5511987654321", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	rival, _, _ := testutil.Org(t, db, "Concorrente")
	foreign, _, err := inbox.UpsertContact(db, rival.ID, "5511911111111", "Bia")
	if err != nil {
		t.Fatal(err)
	}

	w := do(t, r, http.MethodPost, "/deals", map[string]interface{}{"funnel_id": sales.ID, "title": "Pedido", "contact_id": foreign.ID})
	expect(t, w, http.StatusBadRequest)

	w = do(t, r, http.MethodPost, "/deals", map[string]interface{}{"funnel_id": sales.ID, "title": "Pedido", "contact_id": own.ID})
	expect(t, w, http.StatusCreated)
	var deal models.Deal
	decode(t, w, &deal)

	expect(t, do(t, r, http.MethodPut, "/deals/"+deal.ID, map[string]interface{}{"contact_id": foreign.ID}), http.StatusBadRequest)
	db.First(&deal, "id = ?", deal.ID)
	if deal.ContactID == nil || *deal.ContactID != own.ID {
		t.Errorf("contact_id = %v", deal.ContactID)
	}

	expect(t, do(t, r, http.MethodPut, "/deals/"+deal.ID, map[string]interface{}{"contact_id": ""}), http.StatusOK)
	var cleared models.Deal
	db.First(&cleared, "id = ?", deal.ID)
	if cleared.ContactID != nil {
		t.Errorf("contact not cleared: %v", *cleared.ContactID)
	}
}
