package jwk

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"
)

// Set is a JSON Web Key Set: an ordered, immutable list of keys.
// Methods that change the set return a new Set.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-5
type Set struct {
	keys []JWK
}

// NewSet returns a set holding the given keys, in order.
func NewSet(keys ...JWK) Set {
	return Set{keys: slices.Clone(keys)}
}

// ParseSet decodes a JSON object with a "keys" member into a set.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-5.1
func ParseSet(b []byte) (Set, error) {
	if !gjson.ValidBytes(b) {
		return Set{}, joseerr.New(joseerr.MalformedEncoding, "invalid JWK set JSON", nil)
	}

	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return Set{}, joseerr.New(joseerr.MalformedEncoding, "JWK set is not a JSON object", nil)
	}

	keys := root.Get("keys")
	if !keys.Exists() {
		return Set{}, joseerr.Missing("keys")
	}
	if !keys.IsArray() {
		return Set{}, joseerr.Malformed("keys", fmt.Errorf("expected an array"))
	}

	var (
		set Set
		err error
	)
	keys.ForEach(func(_, value gjson.Result) bool {
		var key JWK
		key, err = Parse([]byte(value.Raw))
		if err != nil {
			err = fmt.Errorf("key %d: %w", len(set.keys), err)
			return false
		}
		set.keys = append(set.keys, key)
		return true
	})
	if err != nil {
		return Set{}, err
	}

	return set, nil
}

func undefinedIndex(i int) error {
	return joseerr.New(joseerr.IndexOutOfRange, "Undefined index.", nil).AtIndex(i)
}

// Len returns the number of keys.
func (s Set) Len() int {
	return len(s.keys)
}

// Key returns the key at index i.
func (s Set) Key(i int) (JWK, error) {
	if i < 0 || i >= len(s.keys) {
		return JWK{}, undefinedIndex(i)
	}
	return s.keys[i], nil
}

// Keys returns a copy of every key, in order.
func (s Set) Keys() []JWK {
	return slices.Clone(s.keys)
}

// All iterates over the keys with their index, in insertion order.
func (s Set) All() iter.Seq2[int, JWK] {
	return func(yield func(int, JWK) bool) {
		for i, key := range s.keys {
			if !yield(i, key) {
				return
			}
		}
	}
}

// Add returns a new set with the key appended.
func (s Set) Add(key JWK) Set {
	keys := make([]JWK, 0, len(s.keys)+1)
	keys = append(keys, s.keys...)
	return Set{keys: append(keys, key)}
}

// Remove returns a new set without the key at index i. Keys after it
// shift down by one.
func (s Set) Remove(i int) (Set, error) {
	if i < 0 || i >= len(s.keys) {
		return Set{}, undefinedIndex(i)
	}
	return Set{keys: slices.Delete(slices.Clone(s.keys), i, i+1)}, nil
}

// KeyByID returns the first key with the given "kid".
func (s Set) KeyByID(keyID string) (JWK, error) {
	for _, key := range s.keys {
		if key.KeyID() == keyID {
			return key, nil
		}
	}
	return JWK{}, fmt.Errorf("key %q not found in set", keyID)
}

// Filter returns a new set with the keys for which fn returns true.
func (s Set) Filter(fn func(JWK) bool) Set {
	var keys []JWK
	for _, key := range s.keys {
		if fn(key) {
			keys = append(keys, key)
		}
	}
	return Set{keys: keys}
}

// Validate validates the JWK set, returning an error if any
// of the keys are invalid.
func (s Set) Validate() error {
	if len(s.keys) == 0 {
		return fmt.Errorf("no key values in JWK set")
	}

	for i, key := range s.keys {
		err := key.Validate()
		if err != nil {
			return fmt.Errorf("key set validation error at index %d: %w", i, err)
		}
	}

	return nil
}

// MarshalJSON encodes the set as {"keys":[...]}.
func (s Set) MarshalJSON() ([]byte, error) {
	buff := bytes.NewBufferString(`{"keys":[`)
	for i, key := range s.keys {
		if i > 0 {
			buff.WriteByte(',')
		}
		b, err := key.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buff.Write(b)
	}
	buff.WriteString(`]}`)
	return buff.Bytes(), nil
}

// UnmarshalJSON decodes a JWK set.
func (s *Set) UnmarshalJSON(b []byte) error {
	parsed, err := ParseSet(b)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
