// Package value implements the Value sum type used to hand policy programs
// facts and other host-derived data without risking a crash on a missing
// key. It mirrors the "ghost" object from the source system: an absorptive
// placeholder that answers every operation with a neutral, falsy result
// instead of raising.
package value

import (
	"fmt"
	"sort"
)

// Kind identifies the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindAbsent
)

// Value is a small closed sum type for data that flows from facts, tags, and
// decree fields into the policy evaluator and back. Absent is totally
// absorptive: every accessor on an Absent value returns Absent (or its
// falsy/zero projection) rather than panicking, so policies written against
// possibly-missing facts never crash.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	list  []Value
	m     map[string]Value
}

// Absent is the singleton "ghost" value: absorptive under every operation.
var Absent = Value{kind: KindAbsent}

// Null represents an explicit JSON null, distinct from a missing key.
var Null = Value{kind: KindNull}

func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value   { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func List(vs []Value) Value  { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsAbsent() bool  { return v.kind == KindAbsent }

// Get performs attribute/item access. Looking up a missing key on a Map, an
// out-of-range index on a List, or any access at all on a non-container
// value returns Absent rather than an error — this is the chaining that
// lets "facts.network.vlan" resolve to Absent when "network" was never
// collected.
func (v Value) Get(key string) Value {
	switch v.kind {
	case KindMap:
		if val, ok := v.m[key]; ok {
			return val
		}
		return Absent
	default:
		return Absent
	}
}

// Index performs list indexing; out-of-range and non-list access return Absent.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Absent
	}
	return v.list[i]
}

// Truth implements the falsy/truthy projection used by activate_if and
// boolean contexts: Absent, Null, zero numbers, empty strings/bytes, and
// empty lists/maps are falsy.
func (v Value) Truth() bool {
	switch v.kind {
	case KindAbsent, KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindBytes:
		return len(v.bytes) != 0
	case KindList:
		return len(v.list) != 0
	case KindMap:
		return len(v.m) != 0
	default:
		return false
	}
}

// AsString renders a display form; Absent renders as "" to match the ghost's
// __str__ returning the empty string.
func (v Value) AsString() string {
	switch v.kind {
	case KindAbsent, KindNull:
		return ""
	case KindString:
		return v.s
	case KindBytes:
		return string(v.bytes)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	default:
		return fmt.Sprintf("%v", v.m)
	}
}

// Len mirrors __len__: 0 for Absent/Null/scalars, the natural length for
// strings/bytes/lists/maps.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len(v.s)
	case KindBytes:
		return len(v.bytes)
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Keys returns sorted map keys, or nil for non-maps.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromAny converts a decoded JSON value (as produced by encoding/json's
// default unmarshal into interface{}) into a Value tree.
func FromAny(a any) Value {
	switch x := a.(type) {
	case nil:
		return Null
	case bool:
		return Bool(x)
	case float64:
		return Float(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case []any:
		list := make([]Value, len(x))
		for i, e := range x {
			list[i] = FromAny(e)
		}
		return List(list)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Map(m)
	default:
		return Absent
	}
}

// ToAny converts a Value back into a plain Go value suitable for
// encoding/json — used when a decree's summary needs to embed fact-derived
// data. Absent round-trips to nil, matching the ghost's falsy projection.
func (v Value) ToAny() any {
	switch v.kind {
	case KindAbsent, KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.bytes
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}
