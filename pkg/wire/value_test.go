package wire

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func roundTripValue(t *testing.T, v Value) Value {
	t.Helper()
	buf, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Value
	if err := msgpack.Unmarshal(buf, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestValue_ScalarRoundTrip(t *testing.T) {
	now := time.Now().UTC().Round(time.Second)
	cases := []Value{
		BoolValue(true),
		BoolValue(false),
		Int64Value(-42),
		Uint64Value(42),
		Float64Value(3.25),
		StringValue("hello"),
		TimestampValue(now),
		BytesValue([]byte{1, 2, 3}),
	}
	for _, v := range cases {
		got := roundTripValue(t, v)
		if !valuesEqual(v, got) {
			t.Errorf("round trip of %v: got kind %v, want %v", v, got.Kind(), v.Kind())
		}
	}
}

func TestValue_ArrayRoundTrip(t *testing.T) {
	v := ArrayValue(KindInt64, []Value{Int64Value(1), Int64Value(2), Int64Value(3)})
	got := roundTripValue(t, v)
	if got.Kind() != KindArray {
		t.Fatalf("got kind %v, want array", got.Kind())
	}
	elems, err := got.AsArray()
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}
	if len(elems) != 3 {
		t.Fatalf("got %d elements, want 3", len(elems))
	}
	for i, e := range elems {
		i64, err := e.AsInt64()
		if err != nil || i64 != int64(i+1) {
			t.Errorf("element %d: got %v, %v", i, i64, err)
		}
	}
}

func TestValue_NestedDictRoundTrip(t *testing.T) {
	inner := NewDictionary()
	inner.Set("a", Int64Value(1))
	outer := NewDictionary()
	outer.Set("nested", DictValue(inner))
	outer.Set("name", StringValue("sat1"))

	v := DictValue(outer)
	got := roundTripValue(t, v)
	if got.Kind() != KindDict {
		t.Fatalf("got kind %v, want dict", got.Kind())
	}
	gd, err := got.AsDict()
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if !gd.Equal(outer) {
		t.Errorf("round-tripped dict does not equal original")
	}
}

func TestValue_NestedListRoundTrip(t *testing.T) {
	l := NewListOf(Int64Value(1), StringValue("two"), BoolValue(true))
	v := ListValue(l)
	got := roundTripValue(t, v)
	if got.Kind() != KindList {
		t.Fatalf("got kind %v, want list", got.Kind())
	}
	gl, err := got.AsList()
	if err != nil {
		t.Fatalf("AsList: %v", err)
	}
	if !gl.Equal(l) {
		t.Errorf("round-tripped list does not equal original")
	}
}

func TestValue_AsConversionErrors(t *testing.T) {
	v := StringValue("not a number")
	if _, err := v.AsInt64(); err == nil {
		t.Error("expected error converting string to int64")
	}
	if _, err := v.AsBool(); err == nil {
		t.Error("expected error converting string to bool")
	}
}

func TestValue_IntUintCoercion(t *testing.T) {
	i := Int64Value(7)
	if u, err := i.AsUint64(); err != nil || u != 7 {
		t.Errorf("AsUint64 on positive int64: got %v, %v", u, err)
	}
	neg := Int64Value(-1)
	if _, err := neg.AsUint64(); err == nil {
		t.Error("expected error converting negative int64 to uint64")
	}

	u := Uint64Value(9)
	if i, err := u.AsInt64(); err != nil || i != 9 {
		t.Errorf("AsInt64 on uint64: got %v, %v", i, err)
	}
}

func TestValue_IsZero(t *testing.T) {
	var v Value
	if !v.IsZero() {
		t.Error("zero Value should report IsZero")
	}
	if BoolValue(false).IsZero() {
		t.Error("an explicit false BoolValue should not report IsZero")
	}
}
