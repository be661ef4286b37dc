package api

import (
	"net/http"
	"testing"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.TemplateDraft, models.TemplatePending, true},
		{models.TemplateDraft, models.TemplateApproved, false},
		{models.TemplatePending, models.TemplateRejected, true},
		{models.TemplateApproved, models.TemplatePaused, true},
		{models.TemplateApproved, models.TemplatePending, false},
		{models.TemplatePaused, models.TemplateApproved, true},
		{models.TemplateRejected, models.TemplatePending, false},
		{models.TemplateDisabled, models.TemplateApproved, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v", c.from, c.to, got)
		}
	}
}

func TestTemplateLifecycle(t *testing.T) {
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	h := NewTemplateHandler(db)
	r := testutil.Router(admin)
	r.POST("/templates", h.CreateTemplate)
	r.PUT("/templates/:id", h.UpdateTemplate)
	r.POST("/templates/:id/submit", h.SubmitTemplate)
	r.POST("/templates/:id/status", h.UpdateStatus)

	w := do(t, r, http.MethodPost, "/templates", map[string]string{"name": "Boas Vindas-2026", "category": "marketing"})
	expect(t, w, http.StatusCreated)
	var tmpl models.MetaTemplate
	decode(t, w, &tmpl)
	if tmpl.Name != "boas_vindas_2026" || tmpl.Status != models.TemplateDraft || tmpl.Language != "pt_BR" || tmpl.Category != "MARKETING" {
		t.Fatalf("template = %+v", tmpl)
	}
	path := "/templates/" + tmpl.ID

	expect(t, do(t, r, http.MethodPost, path+"/status", map[string]string{"status": "approved"}), http.StatusConflict)
	expect(t, do(t, r, http.MethodPost, path+"/submit", nil), http.StatusOK)
	expect(t, do(t, r, http.MethodPost, path+"/submit", nil), http.StatusConflict)

	w = do(t, r, http.MethodPost, path+"/status", map[string]string{"status": "REJECTED", "reason": "formato", "external_id": "meta-1"})
	expect(t, w, http.StatusOK)
	decode(t, w, &tmpl)
	if tmpl.Status != models.TemplateRejected || tmpl.RejectedReason != "formato" || tmpl.ExternalID != "meta-1" {
		t.Fatalf("template = %+v", tmpl)
	}
	expect(t, do(t, r, http.MethodPut, path, map[string]string{"name": "outro"}), http.StatusConflict)
}
