package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func TestCreateContact(t *testing.T) {
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	h := NewContactHandler(db, newFakeGateway())
	r := testutil.Router(admin)
	r.POST("/contacts", h.CreateContact)
	r.GET("/contacts", h.GetContacts)

	w := do(t, r, http.MethodPost, "/contacts", map[string]string{"name": "ana souza", "phone": "(11) 98765-4321"})
	expect(t, w, http.StatusCreated)
	var ct models.Contact
	decode(t, w, &ct)
	if ct.Name != "Ana Souza" || ct.Phone != "5511987654321" || ct.DisplayID != 1 {
		t.Fatalf("contact = %+v", ct)
	}

	w = do(t, r, http.MethodPost, "/contacts", map[string]string{"phone": "5511987654321"})
	expect(t, w, http.StatusConflict)

	w = do(t, r, http.MethodPost, "/contacts", map[string]string{"phone": "12345"})
	expect(t, w, http.StatusBadRequest)

	w = do(t, r, http.MethodGet, "/contacts?q=souza", nil)
	expect(t, w, http.StatusOK)
	var page struct {
		Data  []models.Contact `json:"data"`
		Total int64            `json:"total"`
	}
	decode(t, w, &page)
	if page.Total != 1 || len(page.Data) != 1 {
		t.Fatalf("search = %+v", page)
	}
}

func TestCreateContactValidatesCustomFields(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	db.Create(&models.CustomFieldDefinition{OrganizationID: org.ID, Target: "lead", FieldKey: "idade", FieldType: "number"})
	h := NewContactHandler(db, newFakeGateway())
	r := testutil.Router(admin)
	r.POST("/contacts", h.CreateContact)

	w := do(t, r, http.MethodPost, "/contacts", map[string]interface{}{
		"phone": "11987654321", "custom_fields": map[string]interface{}{"idade": "muitos"},
	})
	expect(t, w, http.StatusBadRequest)

	w = do(t, r, http.MethodPost, "/contacts", map[string]interface{}{
		"phone": "11987654321", "custom_fields": map[string]interface{}{"idade": 31},
	})
	expect(t, w, http.StatusCreated)
}

func TestExportContactsCSV(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	for _, p := range []string{"5511987654321", "5521912345678"} {
		if _, _, err := inbox.UpsertContact(db, org.ID, p, ""); err != nil {
			t.Fatal(err)
		}
	}
	h := NewContactHandler(db, newFakeGateway())
	r := testutil.Router(admin)
	r.GET("/contacts/export", h.ExportContacts)

	w := do(t, r, http.MethodGet, "/contacts/export", nil)
	expect(t, w, http.StatusOK)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv = %q", w.Body.String())
	}
	if !strings.HasPrefix(lines[0], "ID,Nome,Telefone") || !strings.Contains(lines[1], "(11) 98765-4321") {
		t.Errorf("csv = %q", w.Body.String())
	}
}

func TestDeleteContactRemovesTags(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	ct, _, _ := inbox.UpsertContact(db, org.ID, "5511987654321", "Ana")
	tag := models.Tag{OrganizationID: org.ID, Name: "VIP"}
	db.Create(&tag)

	tags := NewTagHandler(db)
	contacts := NewContactHandler(db, newFakeGateway())
	r := testutil.Router(admin)
	r.POST("/tags/:id/assign", tags.AssignTag)
	r.GET("/tags/:type/:id", tags.GetTargetTags)
	r.DELETE("/contacts/:id", contacts.DeleteContact)

	body := map[string]string{"target_type": models.TargetContact, "target_id": ct.ID}
	expect(t, do(t, r, http.MethodPost, "/tags/"+tag.ID+"/assign", body), http.StatusOK)
	expect(t, do(t, r, http.MethodPost, "/tags/"+tag.ID+"/assign", body), http.StatusOK)

	w := do(t, r, http.MethodGet, "/tags/contact/"+ct.ID, nil)
	var got []models.Tag
	decode(t, w, &got)
	if len(got) != 1 || got[0].Name != "VIP" {
		t.Fatalf("tags = %+v", got)
	}

	expect(t, do(t, r, http.MethodDelete, "/contacts/"+ct.ID, nil), http.StatusOK)
	var n int64
	db.Model(&models.TagAssignment{}).Count(&n)
	if n != 0 {
		t.Errorf("assignments left = %d", n)
	}
}

func TestSendMessageAndMarkRead(t *testing.T) {
	db := testutil.DB(t)
	org, admin, _ := testutil.Org(t, db, "Loja")
	gw := newFakeGateway()
	h := NewConversationHandler(db, gw)
	r := testutil.Router(admin)
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.GET("/conversations/:id/messages", h.GetMessages)
	r.POST("/conversations/:id/read", h.MarkRead)

	res, err := h.Inbox.RecordMessage(context.Background(), inbox.Record{
		OrgID: org.ID, Phone: "5511987654321", Direction: models.DirectionInbound, Body: "Oi", ExternalID: "IN1",
	})
	if err != nil {
		t.Fatal(err)
	}
	path := "/conversations/" + res.Conversation.ID

	w := do(t, r, http.MethodPost, path+"/messages", map[string]string{"text": "Olá!"})
	expect(t, w, http.StatusConflict)

	inst := models.WhatsAppInstance{OrganizationID: org.ID, InstanceName: "loja", Status: models.InstanceConnected}
	db.Create(&inst)

	w = do(t, r, http.MethodPost, path+"/messages", map[string]string{"text": "Olá!"})
	expect(t, w, http.StatusCreated)
	if len(gw.texts) != 1 || gw.texts[0] != "Olá!" {
		t.Fatalf("sent = %v", gw.texts)
	}

	w = do(t, r, http.MethodGet, path+"/messages", nil)
	var msgs []models.Message
	decode(t, w, &msgs)
	if len(msgs) != 2 || msgs[1].Direction != models.DirectionOutbound || msgs[1].ExternalID != "OUT1" {
		t.Fatalf("messages = %+v", msgs)
	}

	var conv models.Conversation
	db.First(&conv, "id = ?", res.Conversation.ID)
	if conv.UnreadCount != 1 || conv.InstanceID != inst.ID {
		t.Fatalf("conversation = %+v", conv)
	}
	expect(t, do(t, r, http.MethodPost, path+"/read", nil), http.StatusOK)
	db.First(&conv, "id = ?", res.Conversation.ID)
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d after read", conv.UnreadCount)
	}
}
