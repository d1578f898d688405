// Package fsval implements the typed value union used by the Firestore REST
// wire format: every field value is a one-key JSON object tagging its type
// (stringValue, integerValue, mapValue, ...). Accessors return (value, ok)
// instead of coercing.
package fsval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInteger
	KindDouble
	KindTimestamp
	KindList
	KindMap
)

type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	d    float64
	ts   time.Time
	list []Value
	m    map[string]Value
}

func Null() Value                 { return Value{kind: KindNull} }
func String(s string) Value       { return Value{kind: KindString, str: s} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Integer(i int64) Value       { return Value{kind: KindInteger, i: i} }
func Double(d float64) Value      { return Value{kind: KindDouble, d: d} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t.UTC()} }
func List(vs []Value) Value       { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) StringVal() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) BoolVal() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) IntegerVal() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.i, true
}

func (v Value) DoubleVal() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.d, true
}

func (v Value) TimestampVal() (time.Time, bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.ts, true
}

func (v Value) ListVal() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) MapVal() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// FromAny converts a plain Go value to its wire-typed equivalent. Integers map
// to integerValue, all other numerics to doubleValue, time.Time to
// timestampValue; anything unrecognized is stringified.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case float32:
		return Double(float64(t))
	case float64:
		return Double(t)
	case time.Time:
		return Timestamp(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Map(out)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

type wireValue struct {
	NullValue      json.RawMessage `json:"nullValue,omitempty"`
	StringValue    *string         `json:"stringValue,omitempty"`
	BooleanValue   *bool           `json:"booleanValue,omitempty"`
	IntegerValue   *string         `json:"integerValue,omitempty"`
	DoubleValue    *float64        `json:"doubleValue,omitempty"`
	TimestampValue *string         `json:"timestampValue,omitempty"`
	ArrayValue     *wireArray      `json:"arrayValue,omitempty"`
	MapValue       *wireMap        `json:"mapValue,omitempty"`
}

type wireArray struct {
	Values []Value `json:"values,omitempty"`
}

type wireMap struct {
	Fields map[string]Value `json:"fields,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case KindNull:
		w.NullValue = json.RawMessage("null")
	case KindString:
		w.StringValue = &v.str
	case KindBool:
		w.BooleanValue = &v.b
	case KindInteger:
		s := fmt.Sprintf("%d", v.i)
		w.IntegerValue = &s
	case KindDouble:
		w.DoubleValue = &v.d
	case KindTimestamp:
		s := v.ts.Format(time.RFC3339Nano)
		w.TimestampValue = &s
	case KindList:
		w.ArrayValue = &wireArray{Values: v.list}
	case KindMap:
		w.MapValue = &wireMap{Fields: v.m}
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.StringValue != nil:
		*v = String(*w.StringValue)
	case w.BooleanValue != nil:
		*v = Bool(*w.BooleanValue)
	case w.IntegerValue != nil:
		i, err := strconv.ParseInt(*w.IntegerValue, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integerValue %q: %w", *w.IntegerValue, err)
		}
		*v = Integer(i)
	case w.DoubleValue != nil:
		*v = Double(*w.DoubleValue)
	case w.TimestampValue != nil:
		t, err := time.Parse(time.RFC3339Nano, *w.TimestampValue)
		if err != nil {
			return fmt.Errorf("invalid timestampValue %q: %w", *w.TimestampValue, err)
		}
		*v = Timestamp(t)
	case w.ArrayValue != nil:
		*v = List(w.ArrayValue.Values)
	case w.MapValue != nil:
		*v = Map(w.MapValue.Fields)
	default:
		*v = Null()
	}
	return nil
}

// GetString reads a string field from a document field map.
func GetString(fields map[string]Value, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	return v.StringVal()
}

// GetTimestamp reads a timestamp field from a document field map.
func GetTimestamp(fields map[string]Value, key string) (time.Time, bool) {
	v, ok := fields[key]
	if !ok {
		return time.Time{}, false
	}
	return v.TimestampVal()
}
