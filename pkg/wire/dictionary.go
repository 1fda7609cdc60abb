package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Dictionary is an ordered mapping from string to Value. Insertion order is
// preserved, keys are unique and case-sensitive, and round-tripping through
// the wire codec never reorders or drops a key.
type Dictionary struct {
	keys   []string
	values map[string]Value
}

// NewDictionary returns an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{values: make(map[string]Value)}
}

// Set inserts or overwrites the value at key, preserving key's original
// position if it already existed.
func (d *Dictionary) Set(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value at key and whether it was present.
func (d *Dictionary) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Delete removes key, if present.
func (d *Dictionary) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len reports the number of entries.
func (d *Dictionary) Len() int { return len(d.keys) }

// Equal reports whether d and other contain the same keys in the same order
// with equal values. Used by configuration round-trip tests.
func (d *Dictionary) Equal(other *Dictionary) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i, k := range d.keys {
		if other.keys[i] != k {
			return false
		}
		a, _ := d.Get(k)
		b, _ := other.Get(k)
		if !valuesEqual(a, b) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindDict:
		ad, _ := a.AsDict()
		bd, _ := b.AsDict()
		return ad.Equal(bd)
	case KindList:
		al, _ := a.AsList()
		bl, _ := b.AsList()
		return al.Equal(bl)
	case KindArray:
		aa, _ := a.AsArray()
		ba, _ := b.AsArray()
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valuesEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	case KindBytes:
		ab, _ := a.AsBytes()
		bb, _ := b.AsBytes()
		return bytes.Equal(ab, bb)
	case KindTimestamp:
		at, _ := a.AsTimestamp()
		bt, _ := b.AsTimestamp()
		return at.Equal(bt)
	default:
		return a.inner == b.inner
	}
}

// dictPair is the wire shape of one Dictionary entry: [key, value].
type dictPair struct {
	Key   string
	Value Value
}

// EncodeMsgpack implements msgpack.CustomEncoder. Dictionaries are encoded
// as an ordered array of [key, value] pairs rather than a msgpack map so
// that insertion order survives the round trip unambiguously.
func (d *Dictionary) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(d.keys)); err != nil {
		return err
	}
	for _, k := range d.keys {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		v := d.values[k]
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (d *Dictionary) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	d.keys = nil
	d.values = make(map[string]Value, max(n, 0))
	for i := 0; i < n; i++ {
		pairLen, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if pairLen != 2 {
			return fmt.Errorf("wire: dictionary entry %d has %d elements, want 2", i, pairLen)
		}
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		d.Set(key, v)
	}
	return nil
}
