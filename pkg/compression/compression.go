// Package compression implements the JWE "zip" (compression algorithm)
// header parameter.
//
// https://datatracker.ietf.org/doc/html/rfc7516#section-4.1.3
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/picatz/josekit/pkg/joseerr"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registered compression algorithm names.
const (
	// Deflate is the only value registered by RFC 7518, section 7.3.
	Deflate = "DEF"

	GZip = "GZ"
	ZLib = "ZLIB"
)

// DefaultMaxSize bounds the size of decompressed content.
const DefaultMaxSize = 10 << 20

var ErrTooLarge = errors.New("compression: decompressed content is too large")

// Method compresses and decompresses JWE plaintext.
type Method interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, maxSize int64) ([]byte, error)
}

// Manager resolves "zip" values to compression methods. It is immutable
// once built.
type Manager struct {
	methods map[string]Method
	maxSize int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMethods registers additional compression methods.
func WithMethods(methods ...Method) Option {
	return func(m *Manager) {
		for _, method := range methods {
			m.methods[method.Name()] = method
		}
	}
}

// WithMaxSize sets the maximum size of decompressed content.
func WithMaxSize(size int64) Option {
	return func(m *Manager) {
		m.maxSize = size
	}
}

// NewManager returns a manager with the given options and no methods
// other than those registered with WithMethods.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		methods: make(map[string]Method),
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultManager returns a manager supporting DEF, GZ and ZLIB.
func DefaultManager(opts ...Option) *Manager {
	defaults := []Option{WithMethods(
		codec{name: Deflate, writer: newFlateWriter, reader: newFlateReader},
		codec{name: GZip, writer: newGzipWriter, reader: newGzipReader},
		codec{name: ZLib, writer: newZlibWriter, reader: newZlibReader},
	)}
	return NewManager(append(defaults, opts...)...)
}

// Method returns the compression method with the given name.
func (m *Manager) Method(name string) (Method, error) {
	method, ok := m.methods[name]
	if !ok {
		return nil, joseerr.New(joseerr.UnsupportedAlgorithm, fmt.Sprintf("the compression method %q is not supported", name), nil)
	}
	return method, nil
}

// Names returns the supported method names, sorted.
func (m *Manager) Names() []string {
	names := maps.Keys(m.methods)
	slices.Sort(names)
	return names
}

// Compress compresses data with the named method.
func (m *Manager) Compress(name string, data []byte) ([]byte, error) {
	method, err := m.Method(name)
	if err != nil {
		return nil, err
	}
	return method.Compress(data)
}

// Decompress decompresses data with the named method.
func (m *Manager) Decompress(name string, data []byte) ([]byte, error) {
	method, err := m.Method(name)
	if err != nil {
		return nil, err
	}
	return method.Decompress(data, m.maxSize)
}

type codec struct {
	name   string
	writer func(io.Writer) (io.WriteCloser, error)
	reader func(io.Reader) (io.ReadCloser, error)
}

func (c codec) Name() string {
	return c.name
}

func (c codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.writer(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress with %s: %w", c.name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress with %s: %w", c.name, err)
	}
	return buf.Bytes(), nil
}

func (c codec) Decompress(data []byte, maxSize int64) (_ []byte, err error) {
	r, err := c.reader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress with %s: %w", c.name, err)
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	out, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress with %s: %w", c.name, err)
	}
	if int64(len(out)) > maxSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

func newFlateWriter(w io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}

func newFlateReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

func newGzipWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func newGzipReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func newZlibWriter(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriter(w), nil
}

func newZlibReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}
