package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"zapcrm/internal/whatsapp"

	"github.com/gin-gonic/gin"
)

// fakeGateway records sends and answers instance calls from its fields.
type fakeGateway struct {
	mu        sync.Mutex
	n         int
	texts     []string
	templates []string
	fail      map[string]bool // numbers whose sends fail
	state     string
	qr        string
	deleteErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[string]bool{}, state: "connecting", qr: "2@pairing-payload"}
}

func (g *fakeGateway) next() *whatsapp.SendResult {
	g.n++
	return &whatsapp.SendResult{Key: whatsapp.MessageKey{ID: fmt.Sprintf("OUT%d", g.n), FromMe: true}, Status: "PENDING"}
}

func (g *fakeGateway) CreateInstance(_ context.Context, name string) (*whatsapp.CreateInstanceResponse, error) {
	return &whatsapp.CreateInstanceResponse{Instance: whatsapp.InstanceInfo{InstanceName: name, Status: "created"}}, nil
}

func (g *fakeGateway) ConnectInstance(_ context.Context, _ string) (*whatsapp.QRCode, error) {
	return &whatsapp.QRCode{Code: g.qr, PairingCode: "ABCD1234"}, nil
}

func (g *fakeGateway) InstanceState(_ context.Context, _ string) (string, error) {
	return g.state, nil
}

func (g *fakeGateway) LogoutInstance(_ context.Context, _ string) error { return nil }

func (g *fakeGateway) DeleteInstance(_ context.Context, _ string) error { return g.deleteErr }

func (g *fakeGateway) SendText(_ context.Context, _, number, text string) (*whatsapp.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[number] {
		return nil, &whatsapp.APIError{Status: http.StatusBadRequest, Body: "number not on WhatsApp"}
	}
	g.texts = append(g.texts, text)
	return g.next(), nil
}

func (g *fakeGateway) SendTemplate(_ context.Context, _, number, name, _ string, _ json.RawMessage) (*whatsapp.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[number] {
		return nil, &whatsapp.APIError{Status: http.StatusBadRequest, Body: "number not on WhatsApp"}
	}
	g.templates = append(g.templates, number+":"+name)
	return g.next(), nil
}

func (g *fakeGateway) FetchProfilePicture(_ context.Context, _, number string) (string, error) {
	return "https://pps.example/" + number + ".jpg", nil
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d: %s", w.Code, status, w.Body.String())
	}
}
