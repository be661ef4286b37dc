// Package fields holds per-organization custom field values. A value is a
// tagged variant keyed by the field type of its definition; the JSON map
// stored on deals and contacts is only produced and consumed here.
package fields

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Kind string

const (
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindDate    Kind = "date"
	KindSelect  Kind = "select"
	KindBoolean Kind = "boolean"
)

const dateLayout = "2006-01-02"

var ErrInvalidValue = errors.New("invalid custom field value")

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindDate, KindSelect, KindBoolean:
		return true
	}
	return false
}

// Value is exactly one of the typed payloads, selected by Kind.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Date   time.Time
	Bool   bool
}

func Text(s string) Value        { return Value{Kind: KindText, Text: s} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Number: n} }
func Date(t time.Time) Value     { return Value{Kind: KindDate, Date: t.UTC().Truncate(24 * time.Hour)} }
func Choice(option string) Value { return Value{Kind: KindSelect, Text: option} }
func Bool(b bool) Value          { return Value{Kind: KindBoolean, Bool: b} }

// Parse converts a loosely typed input (as decoded from a JSON request body)
// into a Value for a field of the given kind. Select values must be one of
// options.
func Parse(kind Kind, options []string, raw any) (Value, error) {
	switch kind {
	case KindText:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected text", ErrInvalidValue)
		}
		return Text(s), nil
	case KindNumber:
		switch n := raw.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return Value{}, fmt.Errorf("%w: number out of range", ErrInvalidValue)
			}
			return Number(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", "."), 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: expected number", ErrInvalidValue)
			}
			return Number(f), nil
		}
		return Value{}, fmt.Errorf("%w: expected number", ErrInvalidValue)
	case KindDate:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected date", ErrInvalidValue)
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			if t, err = time.Parse(time.RFC3339, s); err != nil {
				return Value{}, fmt.Errorf("%w: expected YYYY-MM-DD date", ErrInvalidValue)
			}
		}
		return Date(t), nil
	case KindSelect:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected option", ErrInvalidValue)
		}
		for _, o := range options {
			if o == s {
				return Choice(s), nil
			}
		}
		return Value{}, fmt.Errorf("%w: %q is not an option", ErrInvalidValue, s)
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected boolean", ErrInvalidValue)
		}
		return Bool(b), nil
	}
	return Value{}, fmt.Errorf("%w: unknown field type %q", ErrInvalidValue, kind)
}

// Raw returns the plain JSON-friendly payload.
func (v Value) Raw() any {
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindDate:
		return v.Date.Format(dateLayout)
	case KindBoolean:
		return v.Bool
	default:
		return v.Text
	}
}

type wireValue struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(v.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.Kind, Value: payload})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw any
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &raw); err != nil {
			return err
		}
	}
	if w.Kind == KindSelect {
		s, _ := raw.(string)
		*v = Choice(s)
		return nil
	}
	parsed, err := Parse(w.Kind, nil, raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Values is the per-record map of field_key to value.
type Values map[string]Value

func (vs Values) Value() (driver.Value, error) {
	if vs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]Value(vs))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (vs *Values) Scan(src any) error {
	var data []byte
	switch s := src.(type) {
	case nil:
		*vs = Values{}
		return nil
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("fields: cannot scan %T", src)
	}
	out := map[string]Value{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
	}
	*vs = out
	return nil
}

func (Values) GormDataType() string { return "json" }

func (Values) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}

// Plain flattens the map for API responses.
func (vs Values) Plain() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Raw()
	}
	return out
}

// Definition is the subset of a field definition needed for validation.
type Definition struct {
	Key     string
	Kind    Kind
	Options []string
}

// ParseAll validates a raw map against the definitions. Keys without a
// definition are rejected; a nil raw value clears the field.
func ParseAll(defs []Definition, raw map[string]any) (Values, error) {
	byKey := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}
	out := Values{}
	for k, r := range raw {
		def, ok := byKey[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidValue, k)
		}
		if r == nil {
			continue
		}
		v, err := Parse(def.Kind, def.Options, r)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
