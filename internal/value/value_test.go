package value

import "testing"

func TestAbsentChaining(t *testing.T) {
	v := Absent
	if v.Get("network").Get("vlan").Truth() {
		t.Fatal("chained Get on Absent should stay falsy")
	}
	if v.Index(3).Truth() {
		t.Fatal("Index on Absent should stay falsy")
	}
	if v.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", v.Len())
	}
	if v.AsString() != "" {
		t.Fatalf("AsString() = %q, want empty", v.AsString())
	}
}

func TestMapGetMissingKeyIsAbsent(t *testing.T) {
	m := Map(map[string]Value{"hostname": String("h1")})
	if !m.Get("hostname").Truth() {
		t.Fatal("present key should be truthy")
	}
	missing := m.Get("fqdn")
	if !missing.IsAbsent() {
		t.Fatal("missing key should resolve to Absent")
	}
	if missing.Truth() {
		t.Fatal("Absent must be falsy")
	}
}

func TestTruthProjection(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{Int(0), false},
		{Int(1), true},
		{String(""), false},
		{String("x"), true},
		{List(nil), false},
		{List([]Value{Int(1)}), true},
		{Bool(false), false},
		{Bool(true), true},
	}
	for _, c := range cases {
		if got := c.v.Truth(); got != c.want {
			t.Errorf("Truth(%+v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestFromAnyRoundTrip(t *testing.T) {
	src := map[string]any{
		"hostname": "h1",
		"cpu":      map[string]any{"cores": float64(4)},
		"tags":     []any{"a", "b"},
	}
	v := FromAny(src)
	if v.Get("hostname").AsString() != "h1" {
		t.Fatal("hostname mismatch")
	}
	if v.Get("cpu").Get("cores").ToAny().(float64) != 4 {
		t.Fatal("nested int mismatch")
	}
	if v.Get("tags").Index(1).AsString() != "b" {
		t.Fatal("list index mismatch")
	}
}
