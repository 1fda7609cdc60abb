package wire

import "github.com/vmihailenco/msgpack/v5"

// List is an ordered sequence of Values, used for positional command
// arguments and return values.
type List struct {
	values []Value
}

// NewList returns an empty List.
func NewList() *List { return &List{} }

// NewListOf returns a List containing vs, in order.
func NewListOf(vs ...Value) *List { return &List{values: vs} }

// Append adds v to the end of the list.
func (l *List) Append(v Value) { l.values = append(l.values, v) }

// Get returns the value at index i.
func (l *List) Get(i int) (Value, bool) {
	if i < 0 || i >= len(l.values) {
		return Value{}, false
	}
	return l.values[i], true
}

// Len reports the number of elements.
func (l *List) Len() int { return len(l.values) }

// Values returns the underlying slice of values, in order.
func (l *List) Values() []Value {
	out := make([]Value, len(l.values))
	copy(out, l.values)
	return out
}

// Equal reports whether l and other hold the same values in the same order.
func (l *List) Equal(other *List) bool {
	if len(l.values) != len(other.values) {
		return false
	}
	for i := range l.values {
		if !valuesEqual(l.values[i], other.values[i]) {
			return false
		}
	}
	return true
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (l *List) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(l.values)); err != nil {
		return err
	}
	for _, v := range l.values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (l *List) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	l.values = make([]Value, 0, max(n, 0))
	for i := 0; i < n; i++ {
		var v Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		l.values = append(l.values, v)
	}
	return nil
}
