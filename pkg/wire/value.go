package wire

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies which alternative of the Value tagged union is populated.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindTimestamp
	KindBytes
	KindArray
	KindDict
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar and container types that can flow
// through a Configuration, a CSCP payload, or a CMDP metric: bool, signed and
// unsigned 64-bit integers, double, string, UTC timestamp, opaque bytes, a
// homogeneous array of any of the above, and the recursive Dictionary/List
// containers.
type Value struct {
	kind  Kind
	inner any
}

// Kind reports which alternative v holds.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v was never assigned a kind.
func (v Value) IsZero() bool { return v.kind == KindBool && v.inner == nil }

func BoolValue(b bool) Value          { return Value{kind: KindBool, inner: b} }
func Int64Value(i int64) Value        { return Value{kind: KindInt64, inner: i} }
func Uint64Value(u uint64) Value      { return Value{kind: KindUint64, inner: u} }
func Float64Value(f float64) Value    { return Value{kind: KindFloat64, inner: f} }
func StringValue(s string) Value      { return Value{kind: KindString, inner: s} }
func BytesValue(b []byte) Value       { return Value{kind: KindBytes, inner: append([]byte{}, b...)} }
func TimestampValue(t time.Time) Value { return Value{kind: KindTimestamp, inner: t.UTC()} }
func ArrayValue(elemKind Kind, vs []Value) Value {
	return Value{kind: KindArray, inner: arrayBody{elemKind: elemKind, values: vs}}
}
func DictValue(d *Dictionary) Value { return Value{kind: KindDict, inner: d} }
func ListValue(l *List) Value       { return Value{kind: KindList, inner: l} }

type arrayBody struct {
	elemKind Kind
	values   []Value
}

// conversion errors

type conversionError struct {
	from, to string
}

func (e *conversionError) Error() string {
	return fmt.Sprintf("cannot convert wire value of kind %s to %s", e.from, e.to)
}

// As* accessors perform the single narrowing conversion each Kind supports;
// Configuration.Get<T> (see config.go) relies on these returning an error
// rather than panicking on mismatch.

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, &conversionError{v.kind.String(), "bool"}
	}
	return v.inner.(bool), nil
}

func (v Value) AsInt64() (int64, error) {
	switch v.kind {
	case KindInt64:
		return v.inner.(int64), nil
	case KindUint64:
		return int64(v.inner.(uint64)), nil
	}
	return 0, &conversionError{v.kind.String(), "int64"}
}

func (v Value) AsUint64() (uint64, error) {
	switch v.kind {
	case KindUint64:
		return v.inner.(uint64), nil
	case KindInt64:
		if i := v.inner.(int64); i >= 0 {
			return uint64(i), nil
		}
	}
	return 0, &conversionError{v.kind.String(), "uint64"}
}

func (v Value) AsFloat64() (float64, error) {
	switch v.kind {
	case KindFloat64:
		return v.inner.(float64), nil
	case KindInt64:
		return float64(v.inner.(int64)), nil
	case KindUint64:
		return float64(v.inner.(uint64)), nil
	}
	return 0, &conversionError{v.kind.String(), "float64"}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &conversionError{v.kind.String(), "string"}
	}
	return v.inner.(string), nil
}

func (v Value) AsTimestamp() (time.Time, error) {
	if v.kind != KindTimestamp {
		return time.Time{}, &conversionError{v.kind.String(), "timestamp"}
	}
	return v.inner.(time.Time), nil
}

func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, &conversionError{v.kind.String(), "bytes"}
	}
	return v.inner.([]byte), nil
}

func (v Value) AsArray() ([]Value, error) {
	if v.kind != KindArray {
		return nil, &conversionError{v.kind.String(), "array"}
	}
	return v.inner.(arrayBody).values, nil
}

func (v Value) AsDict() (*Dictionary, error) {
	if v.kind != KindDict {
		return nil, &conversionError{v.kind.String(), "dict"}
	}
	return v.inner.(*Dictionary), nil
}

func (v Value) AsList() (*List, error) {
	if v.kind != KindList {
		return nil, &conversionError{v.kind.String(), "list"}
	}
	return v.inner.(*List), nil
}

// EncodeMsgpack implements msgpack.CustomEncoder. A Value is rendered as its
// kind byte followed by the kind-specific payload; containers and arrays
// recurse through the same encoder.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindBool:
		return enc.EncodeBool(v.inner.(bool))
	case KindInt64:
		return enc.EncodeInt64(v.inner.(int64))
	case KindUint64:
		return enc.EncodeUint64(v.inner.(uint64))
	case KindFloat64:
		return enc.EncodeFloat64(v.inner.(float64))
	case KindString:
		return enc.EncodeString(v.inner.(string))
	case KindTimestamp:
		return enc.EncodeTime(v.inner.(time.Time))
	case KindBytes:
		return enc.EncodeBytes(v.inner.([]byte))
	case KindArray:
		ab := v.inner.(arrayBody)
		if err := enc.EncodeUint8(uint8(ab.elemKind)); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(ab.values)); err != nil {
			return err
		}
		for _, e := range ab.values {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case KindDict:
		return enc.Encode(v.inner.(*Dictionary))
	case KindList:
		return enc.Encode(v.inner.(*List))
	default:
		return fmt.Errorf("wire: encode: unknown value kind %d", v.kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	k, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	v.kind = Kind(k)
	switch v.kind {
	case KindBool:
		b, err := dec.DecodeBool()
		v.inner = b
		return err
	case KindInt64:
		i, err := dec.DecodeInt64()
		v.inner = i
		return err
	case KindUint64:
		u, err := dec.DecodeUint64()
		v.inner = u
		return err
	case KindFloat64:
		f, err := dec.DecodeFloat64()
		v.inner = f
		return err
	case KindString:
		s, err := dec.DecodeString()
		v.inner = s
		return err
	case KindTimestamp:
		t, err := dec.DecodeTime()
		v.inner = t.UTC()
		return err
	case KindBytes:
		b, err := dec.DecodeBytes()
		v.inner = b
		return err
	case KindArray:
		elemKind, err := dec.DecodeUint8()
		if err != nil {
			return err
		}
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		values := make([]Value, 0, max(n, 0))
		for i := 0; i < n; i++ {
			var e Value
			if err := dec.Decode(&e); err != nil {
				return err
			}
			values = append(values, e)
		}
		v.inner = arrayBody{elemKind: Kind(elemKind), values: values}
		return nil
	case KindDict:
		d := NewDictionary()
		if err := dec.Decode(d); err != nil {
			return err
		}
		v.inner = d
		return nil
	case KindList:
		l := NewList()
		if err := dec.Decode(l); err != nil {
			return err
		}
		v.inner = l
		return nil
	default:
		return fmt.Errorf("wire: decode: unknown value kind %d", v.kind)
	}
}
