package fields

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		kind    Kind
		options []string
		raw     any
		want    any
		ok      bool
	}{
		{KindText, nil, "cliente vip", "cliente vip", true},
		{KindText, nil, 3.0, nil, false},
		{KindNumber, nil, 12.5, 12.5, true},
		{KindNumber, nil, "1,75", 1.75, true},
		{KindNumber, nil, "muitos", nil, false},
		{KindDate, nil, "2026-03-01", "2026-03-01", true},
		{KindDate, nil, "2026-03-01T22:10:00Z", "2026-03-01", true},
		{KindDate, nil, "01/03/2026", nil, false},
		{KindSelect, []string{"quente", "frio"}, "frio", "frio", true},
		{KindSelect, []string{"quente", "frio"}, "morno", nil, false},
		{KindBoolean, nil, true, true, true},
		{KindBoolean, nil, "true", nil, false},
		{Kind("color"), nil, "azul", nil, false},
	}
	for _, c := range cases {
		v, err := Parse(c.kind, c.options, c.raw)
		if !c.ok {
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Parse(%s, %v) err = %v, want ErrInvalidValue", c.kind, c.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%s, %v): %v", c.kind, c.raw, err)
			continue
		}
		if v.Kind != c.kind || v.Raw() != c.want {
			t.Errorf("Parse(%s, %v) = %+v, raw %v", c.kind, c.raw, v, v.Raw())
		}
	}
}

func TestValuesScanKeepsKinds(t *testing.T) {
	in := Values{
		"idade":   Number(31),
		"origem":  Choice("instagram"),
		"retorno": Date(time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)),
		"ativo":   Bool(false),
	}
	stored, err := in.Value()
	if err != nil {
		t.Fatal(err)
	}
	var out Values
	if err := out.Scan(stored); err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("out = %+v", out)
	}
	for k, v := range in {
		if out[k].Kind != v.Kind || out[k].Raw() != v.Raw() {
			t.Errorf("%s: got %+v, want %+v", k, out[k], v)
		}
	}

	var empty Values
	if err := empty.Scan(nil); err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Scan(nil) = %v, %v", empty, err)
	}
}

func TestParseAll(t *testing.T) {
	defs := []Definition{
		{Key: "idade", Kind: KindNumber},
		{Key: "origem", Kind: KindSelect, Options: []string{"site", "indicação"}},
	}
	vs, err := ParseAll(defs, map[string]any{"idade": 40.0, "origem": nil})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := vs["origem"]; ok || vs["idade"].Number != 40 {
		t.Errorf("vs = %+v", vs)
	}
	if _, err := ParseAll(defs, map[string]any{"cpf": "123"}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("unknown key: err = %v", err)
	}
	if _, err := ParseAll(defs, map[string]any{"origem": "tv"}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("bad option: err = %v", err)
	}
	if got := vs.Plain()["idade"]; got != 40.0 {
		t.Errorf("Plain idade = %v", got)
	}
}
