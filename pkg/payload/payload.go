// Package payload converts JWS and JWE payload bytes to typed values and
// back, based on the "cty" (content type) header parameter.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-4.1.10
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/tidwall/gjson"
)

// Registered content types.
const (
	JSON      = "application/json"
	JWK       = "application/jwk+json"
	JWKSet    = "application/jwk-set+json"
	JOSE      = "application/jose"
	JOSEJSON  = "application/jose+json"
	PlainText = "text/plain"
)

// Converter turns payload bytes into a typed value according to the
// complete header of the envelope, and back.
type Converter interface {
	Decode(h header.Parameters, raw []byte) (any, error)
	Encode(h header.Parameters, value any) ([]byte, error)
}

// Codec converts the payload of a single content type.
type Codec interface {
	Decode(raw []byte) (any, error)
	Encode(value any) ([]byte, error)
}

// CodecFuncs adapts a pair of functions to a Codec.
type CodecFuncs struct {
	DecodeFunc func(raw []byte) (any, error)
	EncodeFunc func(value any) ([]byte, error)
}

func (c CodecFuncs) Decode(raw []byte) (any, error) { return c.DecodeFunc(raw) }
func (c CodecFuncs) Encode(value any) ([]byte, error) { return c.EncodeFunc(value) }

// Manager is a Converter dispatching on the normalized content type. A
// payload whose content type is absent or unknown is kept as raw bytes.
//
// A Manager is immutable once built and safe for concurrent use.
type Manager struct {
	codecs map[string]Codec
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec registers the codec for a content type.
func WithCodec(contentType string, codec Codec) Option {
	return func(m *Manager) {
		m.codecs[Normalize(contentType)] = codec
	}
}

// NewManager returns a manager with only the given codecs.
func NewManager(opts ...Option) *Manager {
	m := &Manager{codecs: make(map[string]Codec)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultManager returns a manager that understands JSON, JWK and JWK Set
// payloads.
func DefaultManager(opts ...Option) *Manager {
	defaults := []Option{
		WithCodec(JSON, CodecFuncs{DecodeFunc: decodeJSON, EncodeFunc: encodeJSON}),
		WithCodec(JWK, CodecFuncs{DecodeFunc: decodeJWK, EncodeFunc: encodeJSON}),
		WithCodec(JWKSet, CodecFuncs{DecodeFunc: decodeJWKSet, EncodeFunc: encodeJSON}),
	}
	return NewManager(append(defaults, opts...)...)
}

// Normalize returns the full media type for a "cty" value: values without
// a slash are shorthand for "application/<value>". Comparison is case
// insensitive, so the result is lower case.
func Normalize(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && !strings.Contains(contentType, "/") {
		return "application/" + contentType
	}
	return contentType
}

func (m *Manager) codec(h header.Parameters) (Codec, string, bool) {
	cty, err := h.ContentType()
	if err != nil {
		return nil, "", false
	}
	cty = Normalize(cty)
	codec, ok := m.codecs[cty]
	return codec, cty, ok
}

// Decode converts the payload according to the "cty" header parameter.
func (m *Manager) Decode(h header.Parameters, raw []byte) (any, error) {
	codec, cty, ok := m.codec(h)
	if !ok {
		return raw, nil
	}
	value, err := codec.Decode(raw)
	if err != nil {
		return nil, joseerr.New(joseerr.MalformedEncoding, fmt.Sprintf("payload is not valid %q content", cty), err).ForParam("payload")
	}
	return value, nil
}

// Encode converts the value to payload bytes according to the "cty" header
// parameter. Byte slices and strings are used as is.
func (m *Manager) Encode(h header.Parameters, value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}

	codec, cty, ok := m.codec(h)
	if !ok {
		return encodeJSON(value)
	}
	b, err := codec.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q payload: %w", cty, err)
	}
	return b, nil
}

// decodeJSON returns an ordered.Map for objects and the natural Go value
// for anything else, with numbers kept as json.Number.
func decodeJSON(raw []byte) (any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON")
	}
	result := gjson.ParseBytes(raw)
	if result.IsObject() {
		return ordered.FromJSON(result)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJWK(raw []byte) (any, error) {
	return jwk.Parse(raw)
}

func decodeJWKSet(raw []byte) (any, error) {
	return jwk.ParseSet(raw)
}

func encodeJSON(value any) ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buff)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buff.Bytes(), []byte("\n")), nil
}
