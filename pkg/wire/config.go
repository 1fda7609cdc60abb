package wire

import (
	"sync"
	"time"

	"constellation/pkg/cerrors"
)

// Group tags a Configuration key as belonging to the user-facing,
// internal-only, or both configuration surfaces.
type Group uint8

const (
	GroupUser Group = iota
	GroupInternal
	GroupAll
)

type configEntry struct {
	value Value
	used  bool
	group Group
}

// Configuration wraps a Dictionary with a per-key "used" bit and group tag.
// Get marks a key used on successful conversion; SetDefault only inserts
// keys that are absent; Update overwrites only keys the partial
// configuration actually read.
type Configuration struct {
	mu      sync.Mutex
	keys    []string
	entries map[string]*configEntry
}

// NewConfiguration returns an empty Configuration.
func NewConfiguration() *Configuration {
	return &Configuration{entries: make(map[string]*configEntry)}
}

// NewConfigurationFromDictionary seeds a Configuration from a flat
// dictionary, tagging every key GroupAll and unused.
func NewConfigurationFromDictionary(d *Dictionary) *Configuration {
	c := NewConfiguration()
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		c.setRaw(k, v, GroupAll)
	}
	return c
}

func (c *Configuration) setRaw(key string, v Value, g Group) {
	if _, ok := c.entries[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = &configEntry{value: v, group: g}
}

// Has reports whether key is present, without marking it used.
func (c *Configuration) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// SetDefault inserts key=v only if key is not already present.
func (c *Configuration) SetDefault(key string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.setRaw(key, v, GroupAll)
}

// SetGroup tags an existing key with g; it is a no-op if key is absent.
func (c *Configuration) SetGroup(key string, g Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.group = g
	}
}

// Update overwrites keys in c with the corresponding value from partial, but
// only for keys whose used bit is set in partial — i.e. keys that partial's
// own action code actually consumed via Get. Merged keys are marked used in
// c, so they appear in its Snapshot.
func (c *Configuration) Update(partial *Configuration) {
	partial.mu.Lock()
	used := make(map[string]Value)
	for k, e := range partial.entries {
		if e.used {
			used[k] = e.value
		}
	}
	partial.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range used {
		c.setRaw(k, v, GroupAll)
		c.entries[k].used = true
	}
}

// UnusedKeys returns the keys never successfully read via Get, in insertion
// order — the satellite logs a WARNING naming each of these after
// initialize() completes.
func (c *Configuration) UnusedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, k := range c.keys {
		if !c.entries[k].used {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot returns a Dictionary of only the keys successfully read via Get,
// in insertion order; this is what the get_config standard command returns.
func (c *Configuration) Snapshot() *Dictionary {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := NewDictionary()
	for _, k := range c.keys {
		if e := c.entries[k]; e.used {
			d.Set(k, e.value)
		}
	}
	return d
}

// scalar is the set of Go types a Configuration value can convert to.
type scalar interface {
	bool | int64 | uint64 | float64 | string | time.Time | []byte
}

// Get retrieves and converts the value at key to T, marking the key used on
// success. get<T>(k) succeeds iff the stored value converts to T.
func Get[T scalar](c *Configuration, key string) (T, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, &cerrors.MissingKeyError{Key: key}
	}
	v, err := convertTo[T](e.value)
	if err != nil {
		return zero, &cerrors.InvalidTypeError{Key: key, Want: wantName[T](), Got: e.value.Kind().String()}
	}
	e.used = true
	return v, nil
}

func convertTo[T scalar](v Value) (T, error) {
	var zero T
	switch any(zero).(type) {
	case bool:
		b, err := v.AsBool()
		return any(b).(T), err
	case int64:
		i, err := v.AsInt64()
		return any(i).(T), err
	case uint64:
		u, err := v.AsUint64()
		return any(u).(T), err
	case float64:
		f, err := v.AsFloat64()
		return any(f).(T), err
	case string:
		s, err := v.AsString()
		return any(s).(T), err
	case time.Time:
		t, err := v.AsTimestamp()
		return any(t).(T), err
	case []byte:
		b, err := v.AsBytes()
		return any(b).(T), err
	default:
		return zero, &cerrors.InvalidTypeError{Want: "unsupported", Got: v.Kind().String()}
	}
}

func wantName[T scalar]() string {
	var zero T
	switch any(zero).(type) {
	case bool:
		return "bool"
	case int64:
		return "int64"
	case uint64:
		return "uint64"
	case float64:
		return "float64"
	case string:
		return "string"
	case time.Time:
		return "timestamp"
	case []byte:
		return "bytes"
	default:
		return "unknown"
	}
}
