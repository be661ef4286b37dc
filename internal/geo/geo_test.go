package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
)

const municipiosSP = `[{"id":3550308,"nome":"São Paulo"},{"id":3509502,"nome":"Campinas"},{"id":3548500,"nome":"Santos"},{"id":3513801,"nome":"Diadema"},{"id":3552205,"nome":"Sorocaba"}]`

func fakeIBGE(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		switch r.URL.Path {
		case "/estados/SP/municipios":
			w.Write([]byte(municipiosSP))
		case "/municipios/3550308/distritos":
			w.Write([]byte(`[{"id":355030805,"nome":"Butantã"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchIgnoresCaseAndAccents(t *testing.T) {
	var calls int32
	srv := fakeIBGE(t, &calls)
	cache, _ := NewCache("")
	c := NewClient(srv.URL, cache)

	got, err := c.Search(context.Background(), "sp", "SAO")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "São Paulo" {
		t.Errorf("got %+v", got)
	}

	got, _ = c.Search(context.Background(), "SP", "são paulo")
	if len(got) != 1 {
		t.Errorf("accented query: %+v", got)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected one upstream call, got %d", calls)
	}
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	var calls int32
	srv := fakeIBGE(t, &calls)
	path := filepath.Join(t.TempDir(), "geo.bolt")

	cache, err := NewCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(srv.URL, cache).Districts(context.Background(), 3550308); err != nil {
		t.Fatal(err)
	}
	cache.Close()

	reopened, err := NewCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := NewClient(srv.URL, reopened).Districts(context.Background(), 3550308)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Butantã" {
		t.Errorf("got %+v", got)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected cached districts, got %d calls", calls)
	}
}

func TestMunicipalitiesRejectsBadUF(t *testing.T) {
	cache, _ := NewCache("")
	c := NewClient("http://unused.invalid", cache)
	if _, err := c.Municipalities(context.Background(), "São"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFold(t *testing.T) {
	if got := Fold("  Ribeirão Preto "); got != "ribeirao preto" {
		t.Errorf("got %q", got)
	}
}
