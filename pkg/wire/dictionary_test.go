package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDictionary_PreservesInsertionOrder(t *testing.T) {
	d := NewDictionary()
	d.Set("c", Int64Value(3))
	d.Set("a", Int64Value(1))
	d.Set("b", Int64Value(2))

	got := d.Keys()
	want := []string{"c", "a", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestDictionary_SetOverwriteKeepsPosition(t *testing.T) {
	d := NewDictionary()
	d.Set("a", Int64Value(1))
	d.Set("b", Int64Value(2))
	d.Set("a", Int64Value(99))

	if diff := cmp.Diff([]string{"a", "b"}, d.Keys()); diff != "" {
		t.Errorf("Keys() after overwrite mismatch (-want +got):\n%s", diff)
	}
	v, ok := d.Get("a")
	if !ok {
		t.Fatal("expected key a to be present")
	}
	i, err := v.AsInt64()
	if err != nil || i != 99 {
		t.Errorf("Get(a) = %v, %v, want 99", i, err)
	}
}

func TestDictionary_Delete(t *testing.T) {
	d := NewDictionary()
	d.Set("a", Int64Value(1))
	d.Set("b", Int64Value(2))
	d.Set("c", Int64Value(3))
	d.Delete("b")

	if _, ok := d.Get("b"); ok {
		t.Error("expected b to be deleted")
	}
	if diff := cmp.Diff([]string{"a", "c"}, d.Keys()); diff != "" {
		t.Errorf("Keys() after delete mismatch (-want +got):\n%s", diff)
	}
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
}

func TestDictionary_RoundTripIsLossless(t *testing.T) {
	d := NewDictionary()
	d.Set("name", StringValue("sat1"))
	d.Set("count", Int64Value(5))
	d.Set("ratio", Float64Value(1.5))
	d.Set("blob", BytesValue([]byte{0xde, 0xad, 0xbe, 0xef}))

	inner := NewDictionary()
	inner.Set("nested_key", BoolValue(true))
	d.Set("inner", DictValue(inner))

	buf, err := msgpack.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NewDictionary()
	if err := msgpack.Unmarshal(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Equal(got) {
		t.Errorf("round-tripped dictionary does not equal original: got keys %v, want %v", got.Keys(), d.Keys())
	}
}

func TestDictionary_EqualDetectsOrderDifference(t *testing.T) {
	a := NewDictionary()
	a.Set("x", Int64Value(1))
	a.Set("y", Int64Value(2))

	b := NewDictionary()
	b.Set("y", Int64Value(2))
	b.Set("x", Int64Value(1))

	if a.Equal(b) {
		t.Error("dictionaries with the same keys in different order should not be equal")
	}
}

func TestDictionary_EqualIgnoresNothingAboutValues(t *testing.T) {
	a := NewDictionary()
	a.Set("k", BytesValue([]byte{1, 2}))
	b := NewDictionary()
	b.Set("k", BytesValue([]byte{1, 3}))
	if a.Equal(b) {
		t.Error("dictionaries with differing byte values should not be equal")
	}
}
