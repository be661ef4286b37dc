package api

import (
	"net/http"
	"testing"
	"time"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func msg(conv, dir string, at time.Time) models.Message {
	return models.Message{Base: models.Base{CreatedAt: at}, ConversationID: conv, Direction: dir}
}

func TestFirstResponse(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	in, out := models.DirectionInbound, models.DirectionOutbound
	sla := FirstResponse([]models.Message{
		// answered after 60s; later replies do not count
		msg("a", in, t0),
		msg("a", in, t0.Add(20*time.Second)),
		msg("a", out, t0.Add(60*time.Second)),
		msg("a", out, t0.Add(600*time.Second)),
		// outbound-first conversation answered 120s after the customer wrote
		msg("b", out, t0),
		msg("b", in, t0.Add(10*time.Second)),
		msg("b", out, t0.Add(130*time.Second)),
		// never answered
		msg("c", in, t0),
	})
	if sla.Responded != 2 || sla.Awaiting != 1 {
		t.Fatalf("sla = %+v", sla)
	}
	if sla.AverageSeconds != 90 {
		t.Errorf("average = %v, want 90", sla.AverageSeconds)
	}
	if got := FirstResponse(nil); got.Responded != 0 || got.AverageSeconds != 0 {
		t.Errorf("empty = %+v", got)
	}
}

func TestDashboardStats(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	other, _, _ := testutil.Org(t, db, "Outra")
	now := time.Now()
	db.Create(&models.Contact{OrganizationID: org.ID, Phone: "5511987654321"})
	db.Create(&models.Contact{OrganizationID: other.ID, Phone: "5511987654321"})
	db.Create(&models.Conversation{OrganizationID: org.ID, ContactID: "x", LastMessageAt: &now, UnreadCount: 3})
	db.Create(&models.Deal{OrganizationID: org.ID, FunnelID: "f", StageID: "s", Title: "a", Value: 10, Status: models.DealWon})
	db.Create(&models.Deal{OrganizationID: org.ID, FunnelID: "f", StageID: "s", Title: "b", Value: 5, Status: models.DealWon})

	h := NewDashboardHandler(db)
	r := testutil.Router(admin)
	r.GET("/dashboard", h.GetStats)
	r.GET("/dashboard/sla", h.GetSLA)

	w := do(t, r, http.MethodGet, "/dashboard", nil)
	expect(t, w, http.StatusOK)
	var s Stats
	decode(t, w, &s)
	if s.Contacts != 1 || s.ActiveConversations != 1 || s.UnreadMessages != 3 {
		t.Errorf("stats = %+v", s)
	}
	if d := s.Deals[models.DealWon]; d.Count != 2 || d.Value != 15 {
		t.Errorf("won deals = %+v", d)
	}
	expect(t, do(t, r, http.MethodGet, "/dashboard/sla?days=0", nil), http.StatusBadRequest)
	expect(t, do(t, r, http.MethodGet, "/dashboard/sla", nil), http.StatusOK)
}
