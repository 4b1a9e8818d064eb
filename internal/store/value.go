package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
)

// Value is a tagged union for one typed field value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func Null() Value              { return Value{} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value   { return Value{kind: KindTime, t: t.UTC()} }

func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether the value is null or a blank string.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.s) == ""
	}
	return false
}

// Text renders the value for hashing, display and slug derivation.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339)
	}
	return ""
}

func (v Value) AsString() (string, bool)  { return v.s, v.kind == KindString }
func (v Value) AsInt() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)  { return v.f, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Equal compares kind and payload. Time values compare by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

type valueJSON struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	var kind string
	switch v.kind {
	case KindNull:
		return json.Marshal(valueJSON{Kind: "null"})
	case KindString:
		kind, payload = "string", v.s
	case KindInt:
		kind, payload = "int", v.i
	case KindFloat:
		kind, payload = "float", v.f
	case KindBool:
		kind, payload = "bool", v.b
	case KindTime:
		kind, payload = "time", v.t.Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var vj valueJSON
	if err := json.Unmarshal(data, &vj); err != nil {
		return err
	}
	switch vj.Kind {
	case "null", "":
		*v = Null()
	case "string":
		var s string
		if err := json.Unmarshal(vj.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case "int":
		var i int64
		if err := json.Unmarshal(vj.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case "float":
		var f float64
		if err := json.Unmarshal(vj.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case "bool":
		var b bool
		if err := json.Unmarshal(vj.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case "time":
		var s string
		if err := json.Unmarshal(vj.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*v = Time(t)
	default:
		return fmt.Errorf("unknown value kind %q", vj.Kind)
	}
	return nil
}
