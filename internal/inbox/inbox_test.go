package inbox

import (
	"context"
	"testing"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func TestRecordMessageAndMarkRead(t *testing.T) {
	db := testutil.DB(t)
	org, _, _ := testutil.Org(t, db, "Org")
	svc := NewService(db)
	ctx := context.Background()

	rec := Record{OrgID: org.ID, Phone: "(11) 98765-4321", Direction: models.DirectionInbound, Body: "oi", ExternalID: "A"}
	res, err := svc.RecordMessage(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NewContact || res.Contact.Phone != "5511987654321" || res.Contact.Name != "(11) 98765-4321" {
		t.Errorf("contact = %+v", res.Contact)
	}
	if res.Conversation.UnreadCount != 1 {
		t.Errorf("unread = %d", res.Conversation.UnreadCount)
	}

	again, err := svc.RecordMessage(ctx, rec)
	if err != nil || !again.Duplicate {
		t.Fatalf("duplicate = %v, err = %v", again.Duplicate, err)
	}

	reply := Record{OrgID: org.ID, Phone: "5511987654321", Direction: models.DirectionOutbound, Body: "olá"}
	res2, err := svc.RecordMessage(ctx, reply)
	if err != nil {
		t.Fatal(err)
	}
	if res2.NewContact || res2.Conversation.ID != res.Conversation.ID || res2.Conversation.UnreadCount != 1 {
		t.Errorf("reply result = %+v", res2)
	}

	if err := svc.MarkRead(ctx, org.ID, res.Conversation.ID); err != nil {
		t.Fatal(err)
	}
	var conv models.Conversation
	db.First(&conv, "id = ?", res.Conversation.ID)
	if conv.UnreadCount != 0 {
		t.Errorf("unread after read = %d", conv.UnreadCount)
	}
}

func TestDisplayIDsArePerOrganization(t *testing.T) {
	db := testutil.DB(t)
	a, _, _ := testutil.Org(t, db, "A")
	b, _, _ := testutil.Org(t, db, "B")

	var ids []int
	for _, step := range []struct{ org, phone string }{
		{a.ID, "5511900000001"}, {a.ID, "5511900000002"}, {b.ID, "5511900000001"},
	} {
		tx := db.Begin()
		c, created, err := UpsertContact(tx, step.org, step.phone, "")
		if err != nil || !created {
			t.Fatalf("upsert %v: created=%v err=%v", step, created, err)
		}
		tx.Commit()
		ids = append(ids, c.DisplayID)
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 1 {
		t.Errorf("display ids = %v", ids)
	}
}

func TestRecordMessageFailsWhenDuplicateCheckFails(t *testing.T) {
	db := testutil.DB(t)
	org, _, _ := testutil.Org(t, db, "Org")
	svc := NewService(db)
	if err := db.Migrator().DropTable(&models.Message{}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.RecordMessage(context.Background(), Record{OrgID: org.ID, Phone: "5511987654321", Direction: models.DirectionInbound, Body: "oi", ExternalID: "A"})
	if err == nil {
		t.Fatal("expected an error")
	}
	var n int64
	db.Model(&models.Contact{}).Where("organization_id = ?", org.ID).Count(&n)
	if n != 0 {
		t.Errorf("contacts = %d, want 0", n)
	}
}
