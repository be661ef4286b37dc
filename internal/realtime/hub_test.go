package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

func dial(t *testing.T, srv *httptest.Server, org string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?org=" + org
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, org string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount(org) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients in %s", n, org)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversOnlyToOrganization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, r.URL.Query().Get("org"))
	}))
	defer srv.Close()

	a := dial(t, srv, "org-a")
	b := dial(t, srv, "org-b")
	waitClients(t, hub, "org-a", 1)
	waitClients(t, hub, "org-b", 1)

	Notify(hub, "org-a", "Nova mensagem", "oi")

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	if err != nil {
		t.Fatalf("org-a read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventNotification || ev.Title != "Nova mensagem" {
		t.Errorf("unexpected event %+v", ev)
	}

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Error("org-b should not receive org-a events")
	}
}

func TestPluginPublishesChanges(t *testing.T) {
	db := testutil.DB(t)
	rec := NewRecorder()
	if err := db.Use(NewPlugin(rec)); err != nil {
		t.Fatal(err)
	}

	contact := models.Contact{OrganizationID: "org-1", Phone: "5511987654321", Name: "Ana"}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.Find("org-1", EventChange, "contacts"); !ok {
		t.Fatal("expected insert event for contacts")
	}

	if err := db.Model(&contact).Update("name", "Ana Paula").Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(&contact).Error; err != nil {
		t.Fatal(err)
	}

	var actions []string
	for _, ev := range rec.Events("org-1") {
		actions = append(actions, ev.Action)
	}
	if strings.Join(actions, ",") != "insert,update,delete" {
		t.Errorf("actions = %v", actions)
	}

	// tables without organization_id are not published
	db.Create(&models.SystemSetting{Key: "K", Value: "v"})
	if len(rec.Events("")) != 0 {
		t.Error("unexpected event without organization")
	}
}

func TestPluginAttributesScopedWrites(t *testing.T) {
	db := testutil.DB(t)
	rec := NewRecorder()
	if err := db.Use(NewPlugin(rec)); err != nil {
		t.Fatal(err)
	}
	db.Create(&models.Contact{OrganizationID: "org-1", Phone: "5511987654321", Name: "Ana"})
	db.Create(&models.Contact{OrganizationID: "org-2", Phone: "5511987654322", Name: "Bia"})

	err := db.Model(&models.Contact{}).
		Where("phone = ? AND organization_id = ?", "5511987654321", "org-1").
		Update("name", "Ana Paula").Error
	if err != nil {
		t.Fatal(err)
	}
	events := rec.Events("org-1")
	if len(events) != 2 || events[1].Action != ActionUpdate || events[1].Table != "contacts" || events[1].Record != nil {
		t.Fatalf("org-1 events = %+v", events)
	}

	if err := db.Where(map[string]interface{}{"organization_id": "org-2"}).Delete(&models.Contact{}).Error; err != nil {
		t.Fatal(err)
	}
	if ev, ok := rec.Find("org-2", EventChange, "contacts"); !ok || len(rec.Events("org-2")) != 2 {
		t.Fatalf("org-2 events = %+v (%v)", rec.Events("org-2"), ev)
	}
	if got := rec.Events("org-2")[1].Action; got != ActionDelete {
		t.Errorf("action = %s, want delete", got)
	}

	// no organization condition, nothing to attribute
	db.Model(&models.Contact{}).Where("phone = ?", "5511987654321").Update("name", "X")
	if len(rec.Events("org-1")) != 2 {
		t.Errorf("unattributed write published: %+v", rec.Events("org-1"))
	}
}

func TestPluginPublishesAfterCommitOnly(t *testing.T) {
	db := testutil.DB(t)
	rec := NewRecorder()
	if err := db.Use(NewPlugin(rec)); err != nil {
		t.Fatal(err)
	}

	errAbort := errors.New("abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Contact{OrganizationID: "org-1", Phone: "5511911111111"}).Error; err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("err = %v", err)
	}
	var n int64
	db.Model(&models.Contact{}).Count(&n)
	if n != 0 || len(rec.Events("org-1")) != 0 {
		t.Fatalf("rolled back: rows=%d events=%d", n, len(rec.Events("org-1")))
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Contact{OrganizationID: "org-1", Phone: "5511922222222"}).Error; err != nil {
			return err
		}
		if len(rec.Events("org-1")) != 0 {
			t.Error("event published before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Events("org-1")) != 1 {
		t.Errorf("committed: events = %+v", rec.Events("org-1"))
	}
}

func TestServeAfterShutdownReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	served := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, "org-a")
		served <- struct{}{}
	}))
	defer srv.Close()

	dial(t, srv, "org-a")
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeWs blocked after the hub stopped")
	}
}
