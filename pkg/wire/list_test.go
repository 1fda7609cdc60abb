package wire

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestList_GetAndLen(t *testing.T) {
	l := NewListOf(Int64Value(10), StringValue("mid"), BoolValue(false))
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	v, ok := l.Get(1)
	if !ok {
		t.Fatal("expected element at index 1")
	}
	s, err := v.AsString()
	if err != nil || s != "mid" {
		t.Errorf("Get(1) = %v, %v, want mid", s, err)
	}
	if _, ok := l.Get(3); ok {
		t.Error("Get(3) should report absent for an out-of-range index")
	}
	if _, ok := l.Get(-1); ok {
		t.Error("Get(-1) should report absent")
	}
}

func TestList_AppendPreservesOrder(t *testing.T) {
	l := NewList()
	l.Append(Int64Value(1))
	l.Append(Int64Value(2))
	l.Append(Int64Value(3))

	vs := l.Values()
	for i, v := range vs {
		got, err := v.AsInt64()
		if err != nil || got != int64(i+1) {
			t.Errorf("element %d = %v, %v, want %d", i, got, err, i+1)
		}
	}
}

func TestList_RoundTrip(t *testing.T) {
	l := NewListOf(Int64Value(1), StringValue("two"), Float64Value(3.0), BytesValue([]byte{9}))
	buf, err := msgpack.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NewList()
	if err := msgpack.Unmarshal(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !l.Equal(got) {
		t.Error("round-tripped list does not equal original")
	}
}

func TestList_EqualDetectsOrderDifference(t *testing.T) {
	a := NewListOf(Int64Value(1), Int64Value(2))
	b := NewListOf(Int64Value(2), Int64Value(1))
	if a.Equal(b) {
		t.Error("lists with the same values in different order should not be equal")
	}
}

func TestList_EmptyRoundTrip(t *testing.T) {
	l := NewList()
	buf, err := msgpack.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NewList()
	if err := msgpack.Unmarshal(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len() = %d, want 0", got.Len())
	}
}
