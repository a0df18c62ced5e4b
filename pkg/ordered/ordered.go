// Package ordered provides an insertion-ordered, string-keyed map used for
// JOSE headers and JWK parameters.
//
// Canonical JSON output of headers and keys depends on a stable member
// order, which Go's built-in maps do not provide. A Map remembers the order
// in which members were supplied (or appeared in a JSON document) and
// writes them back in the same order.
package ordered

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"reflect"

	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"
)

// Pair is a single member of a Map.
type Pair struct {
	Key   string
	Value any
}

// Map is an insertion-ordered mapping from member name to value.
//
// The zero value is an empty map ready to use. Methods that change the
// map return a new Map and leave the receiver untouched.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns a map containing the given pairs, in order. A repeated key
// keeps its first position and its last value.
func NewMap(pairs ...Pair) Map {
	m := Map{}
	for _, p := range pairs {
		m.set(p.Key, p.Value)
	}
	return m
}

// set mutates the map in place, it is only used while building a new map.
func (m *Map) set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Len returns the number of members.
func (m Map) Len() int {
	return len(m.keys)
}

// Has reports whether the member exists.
func (m Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Get returns the member value, and whether it exists.
func (m Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the member names in order.
func (m Map) Keys() []string {
	return slices.Clone(m.keys)
}

// All iterates over the members in order.
func (m Map) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// Clone returns a shallow copy of the map.
func (m Map) Clone() Map {
	c := Map{
		keys:   slices.Clone(m.keys),
		values: make(map[string]any, len(m.values)),
	}
	for k, v := range m.values {
		c.values[k] = v
	}
	return c
}

// With returns a copy of the map with the member set. An existing member
// keeps its position.
func (m Map) With(key string, value any) Map {
	c := m.Clone()
	c.set(key, value)
	return c
}

// Without returns a copy of the map without the given members.
func (m Map) Without(keys ...string) Map {
	c := Map{}
	for _, k := range m.keys {
		if slices.Contains(keys, k) {
			continue
		}
		c.set(k, m.values[k])
	}
	return c
}

// Merge returns a copy of the map with every member of top applied over
// it. Members of top win on conflict, new members are appended in top's
// order.
func (m Map) Merge(top Map) Map {
	c := m.Clone()
	for _, k := range top.keys {
		c.set(k, top.values[k])
	}
	return c
}

// Equal reports whether both maps hold the same members in the same order.
func (m Map) Equal(other Map) bool {
	if !slices.Equal(m.keys, other.keys) {
		return false
	}
	for _, k := range m.keys {
		if !reflect.DeepEqual(m.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// Intersect returns the member names present in both maps, in the order
// of the receiver.
func (m Map) Intersect(other Map) []string {
	var common []string
	for _, k := range m.keys {
		if other.Has(k) {
			common = append(common, k)
		}
	}
	return common
}

// MarshalJSON writes the members in insertion order without HTML escaping.
func (m Map) MarshalJSON() ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	buff.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buff.WriteByte(',')
		}
		kb, err := marshalValue(k)
		if err != nil {
			return nil, err
		}
		buff.Write(kb)
		buff.WriteByte(':')
		vb, err := marshalValue(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode member %q: %w", k, err)
		}
		buff.Write(vb)
	}
	buff.WriteByte('}')
	return buff.Bytes(), nil
}

// UnmarshalJSON replaces the receiver with the members of the given JSON
// object, in document order.
func (m *Map) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid JSON")
	}
	parsed, err := FromJSON(gjson.ParseBytes(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Parse decodes a JSON object into a Map.
func Parse(data []byte) (Map, error) {
	var m Map
	if err := m.UnmarshalJSON(data); err != nil {
		return Map{}, err
	}
	return m, nil
}

// FromJSON converts an already parsed JSON object into a Map. Nested
// objects become Maps, arrays become []any, and numbers are kept as
// json.Number so they are re-encoded exactly as they were read.
//
// Duplicate member names are rejected.
func FromJSON(r gjson.Result) (Map, error) {
	if !r.IsObject() {
		return Map{}, fmt.Errorf("expected a JSON object, got %s", r.Type)
	}

	m := Map{values: map[string]any{}}
	var err error
	r.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if m.Has(name) {
			err = fmt.Errorf("duplicate member %q", name)
			return false
		}
		var v any
		v, err = valueFromJSON(value)
		if err != nil {
			err = fmt.Errorf("member %q: %w", name, err)
			return false
		}
		m.set(name, v)
		return true
	})
	if err != nil {
		return Map{}, err
	}
	return m, nil
}

func valueFromJSON(r gjson.Result) (any, error) {
	switch {
	case r.IsObject():
		return FromJSON(r)
	case r.IsArray():
		values := []any{}
		var err error
		r.ForEach(func(_, value gjson.Result) bool {
			var v any
			v, err = valueFromJSON(value)
			if err != nil {
				return false
			}
			values = append(values, v)
			return true
		})
		if err != nil {
			return nil, err
		}
		return values, nil
	}

	switch r.Type {
	case gjson.String:
		return r.Str, nil
	case gjson.Number:
		return json.Number(r.Raw), nil
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	case gjson.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value %q", r.Raw)
	}
}

func marshalValue(v any) ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buff)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buff.Bytes(), "\n"), nil
}
