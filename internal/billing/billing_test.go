package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

var prices = map[string]string{"starter": "price_starter", "pro": "price_pro", "tokens_1k": "price_t1k"}

func TestCheckoutUnknownPlanMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := &Client{APIURL: srv.URL, Catalog: NewCatalog(prices), HTTPClient: srv.Client()}
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{PlanKey: "platinum", OrgID: "org-1"})
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("err = %v, want ErrUnknownPlan", err)
	}
	if !strings.Contains(err.Error(), "platinum") {
		t.Errorf("error should name the plan: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("made %d external calls", calls)
	}
}

func TestCheckoutSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("missing Idempotency-Key")
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		r.ParseForm()
		if r.PostForm.Get("mode") != "subscription" || r.PostForm.Get("line_items[0][price]") != "price_pro" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.PostForm.Get("metadata[organization_id]") != "org-1" || r.PostForm.Get("metadata[plan_key]") != "pro" {
			t.Errorf("metadata = %v", r.PostForm)
		}
		w.Write([]byte(`{"id":"cs_123","url":"https://checkout.example/cs_123"}`))
	}))
	defer srv.Close()

	c := &Client{SecretKey: "sk_test", APIURL: srv.URL, AppURL: "https://app.example", Catalog: NewCatalog(prices), HTTPClient: srv.Client()}
	s, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{PlanKey: "pro", OrgID: "org-1", Email: "a@b.c"})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "cs_123" || s.URL == "" {
		t.Errorf("session = %+v", s)
	}
}

func TestCheckoutTokenPackUsesPaymentMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("mode") != "payment" {
			t.Errorf("mode = %q", r.PostForm.Get("mode"))
		}
		if r.PostForm.Get("subscription_data[metadata][organization_id]") != "" {
			t.Error("payment mode must not send subscription data")
		}
		w.Write([]byte(`{"id":"cs_9","url":"https://checkout.example/cs_9"}`))
	}))
	defer srv.Close()

	c := &Client{APIURL: srv.URL, Catalog: NewCatalog(prices), HTTPClient: srv.Client()}
	if _, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{PlanKey: "tokens_1k", OrgID: "org-1"}); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutMissingPrice(t *testing.T) {
	c := &Client{APIURL: "http://unused.invalid", Catalog: NewCatalog(prices), HTTPClient: http.DefaultClient}
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{PlanKey: "business", OrgID: "org-1"})
	if !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := SignatureHeader(payload, "whsec", now)

	if err := VerifySignature(payload, header, "whsec", now.Add(time.Minute)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature([]byte(`{"id":"evt_2"}`), header, "whsec", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload: %v", err)
	}
	if err := VerifySignature(payload, header, "other", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong secret: %v", err)
	}
	if err := VerifySignature(payload, header, "whsec", now.Add(6*time.Minute)); !errors.Is(err, ErrStaleSignature) {
		t.Errorf("stale: %v", err)
	}
	if err := VerifySignature(payload, "garbage", "whsec", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("malformed: %v", err)
	}
}

func event(t *testing.T, id, typ string, obj interface{}) Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}
	ev := Event{ID: id, Type: typ}
	ev.Data.Object = raw
	return ev
}

func TestHandleEventLifecycle(t *testing.T) {
	db := testutil.DB(t)
	svc := NewService(db, NewCatalog(prices))
	ctx := context.Background()

	completed := event(t, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id": "cs_1", "mode": "subscription", "customer": "cus_1", "subscription": "sub_1",
		"metadata": map[string]string{"organization_id": "org-1", "plan_key": "pro"},
	})
	if err := svc.HandleEvent(ctx, completed); err != nil {
		t.Fatal(err)
	}
	sub, _, err := svc.Subscription(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != models.SubscriptionActive || sub.PlanKey != "pro" || sub.AmountCents != 19700 {
		t.Errorf("subscription = %+v", sub)
	}

	m, err := svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.MRRCents != 19700 || m.ActiveSubscriptions != 1 || m.ByPlan["pro"] != 1 {
		t.Errorf("metrics = %+v", m)
	}

	deleted := event(t, "evt_2", "customer.subscription.deleted", map[string]interface{}{"id": "sub_1"})
	if err := svc.HandleEvent(ctx, deleted); err != nil {
		t.Fatal(err)
	}
	sub, _, _ = svc.Subscription(ctx, "org-1")
	if sub.Status != models.SubscriptionCanceled {
		t.Errorf("status = %q", sub.Status)
	}
	m, _ = svc.Metrics(ctx)
	if m.MRRCents != 0 || m.CanceledCount != 1 {
		t.Errorf("metrics after cancel = %+v", m)
	}
}

func TestHandleEventCreditsTokensOnce(t *testing.T) {
	db := testutil.DB(t)
	svc := NewService(db, NewCatalog(prices))
	ctx := context.Background()

	ev := event(t, "evt_tok", "checkout.session.completed", map[string]interface{}{
		"id": "cs_2", "mode": "payment", "client_reference_id": "org-2",
		"metadata": map[string]string{"plan_key": "tokens_1k"},
	})
	for i := 0; i < 2; i++ {
		if err := svc.HandleEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	_, balance, err := svc.Subscription(ctx, "org-2")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1000 {
		t.Errorf("balance = %d, want 1000", balance)
	}
}
