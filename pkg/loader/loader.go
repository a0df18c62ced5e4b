// Package loader turns serialized JWS and JWE text into envelope entries,
// and verifies or decrypts them with a set of candidate keys.
//
// A Loader is built once from its collaborators and never modified
// afterwards, so a single Loader can be shared by concurrent callers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/picatz/josekit/pkg/checker"
	"github.com/picatz/josekit/pkg/compression"
	"github.com/picatz/josekit/pkg/finder"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/payload"
	"github.com/picatz/josekit/pkg/serialization"
	"go.uber.org/zap"
)

// Loader loads and opens JOSE envelopes.
type Loader struct {
	registry    *jwa.Registry
	finder      finder.KeyFinder
	converter   payload.Converter
	compression *compression.Manager
	checker     checker.Checker

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger, which defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMetrics records the operations of the loader.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Loader) {
		l.metrics = metrics
	}
}

// New returns a Loader using the given collaborators. A nil checker
// skips header and claim checks.
func New(
	registry *jwa.Registry,
	keyFinder finder.KeyFinder,
	converter payload.Converter,
	compressionManager *compression.Manager,
	checkerManager checker.Checker,
	opts ...Option,
) (*Loader, error) {
	switch {
	case registry == nil:
		return nil, errors.New("loader: algorithm registry is required")
	case keyFinder == nil:
		return nil, errors.New("loader: key finder is required")
	case converter == nil:
		return nil, errors.New("loader: payload converter is required")
	case compressionManager == nil:
		return nil, errors.New("loader: compression manager is required")
	}

	l := &Loader{
		registry:    registry,
		finder:      keyFinder,
		converter:   converter,
		compression: compressionManager,
		checker:     checkerManager,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewDefault returns a Loader with the default algorithms, key finder,
// payload converter, compression methods and checks.
func NewDefault(opts ...Option) (*Loader, error) {
	checks, err := checker.New()
	if err != nil {
		return nil, err
	}
	return New(
		jwa.DefaultRegistry(),
		finder.Default(),
		payload.DefaultManager(),
		compression.DefaultManager(),
		checks,
		opts...,
	)
}

// Loaded is the result of loading an input: the entries of a single JWS
// or JWE, in order.
type Loaded struct {
	Kind       serialization.Kind
	Mode       serialization.Mode
	Signatures []*jws.JWS
	Recipients []*jwe.JWE
}

// Len returns the number of entries.
func (r *Loaded) Len() int {
	if r.Kind == serialization.KindJWE {
		return len(r.Recipients)
	}
	return len(r.Signatures)
}

// Value returns the single entry when there is exactly one, and the
// ordered entries otherwise: a *jws.JWS, []*jws.JWS, *jwe.JWE or
// []*jwe.JWE.
func (r *Loaded) Value() any {
	switch r.Kind {
	case serialization.KindJWS:
		if len(r.Signatures) == 1 {
			return r.Signatures[0]
		}
		return r.Signatures
	case serialization.KindJWE:
		if len(r.Recipients) == 1 {
			return r.Recipients[0]
		}
		return r.Recipients
	default:
		return nil
	}
}

// Load parses the input, which may use any serialization of a JWS or JWE.
//
// The result is a *jws.JWS or *jwe.JWE when the input has exactly one
// signature or recipient, and a []*jws.JWS or []*jwe.JWE otherwise.
func (l *Loader) Load(input string) (any, error) {
	loaded, err := l.LoadAll(input)
	if err != nil {
		return nil, err
	}
	return loaded.Value(), nil
}

// LoadAll parses the input like Load, always returning every entry.
func (l *Loader) LoadAll(input string) (*Loaded, error) {
	start := l.now()

	loaded, err := l.load(input)

	kind, mode := serialization.KindUnknown, "unknown"
	if loaded != nil {
		kind, mode = loaded.Kind, loaded.Mode.String()
	}
	l.metrics.RecordLoad(kind, mode, l.now().Sub(start).Seconds(), err)

	if err != nil {
		l.logger.Warn("failed to load input", zap.Error(err))
		return nil, err
	}
	l.logger.Debug("loaded input",
		zap.Stringer("kind", loaded.Kind),
		zap.Stringer("mode", loaded.Mode),
		zap.Int("entries", loaded.Len()),
	)
	return loaded, nil
}

func (l *Loader) load(input string) (*Loaded, error) {
	kind, mode, obj, err := serialization.Detect(input)
	if err != nil {
		return nil, joseerr.New(joseerr.InvalidInput, "Unable to load the input", err)
	}

	loaded := &Loaded{Kind: kind, Mode: mode}

	switch {
	case kind == serialization.KindJWS && mode == serialization.Compact:
		sig, err := serialization.ParseCompactJWS(input, l.converter)
		if err != nil {
			return nil, err
		}
		loaded.Signatures = []*jws.JWS{sig}
	case kind == serialization.KindJWS:
		loaded.Signatures, err = serialization.ParseJWS(obj, input, l.converter)
		if err != nil {
			return nil, err
		}
	case kind == serialization.KindJWE && mode == serialization.Compact:
		rec, err := serialization.ParseCompactJWE(input)
		if err != nil {
			return nil, err
		}
		loaded.Recipients = []*jwe.JWE{rec}
	case kind == serialization.KindJWE:
		loaded.Recipients, err = serialization.ParseJWE(obj, input)
		if err != nil {
			return nil, err
		}
	default:
		return nil, joseerr.New(joseerr.InvalidInput, "Unable to load the input", nil)
	}

	return loaded, nil
}

// candidates returns the keys to try for the complete header of an entry,
// after checking the header.
func (l *Loader) candidates(ctx context.Context, protected, complete header.Parameters, keys jwk.Set) (jwk.Set, error) {
	if l.checker != nil {
		if err := l.checker.CheckHeader(protected, complete); err != nil {
			return jwk.Set{}, err
		}
	}

	found, err := l.finder.FindKeys(ctx, complete, keys)
	if err != nil {
		return jwk.Set{}, fmt.Errorf("failed to find keys: %w", err)
	}
	return found, nil
}

func (l *Loader) checkClaims(value any) error {
	if l.checker == nil {
		return nil
	}
	return l.checker.CheckClaims(value)
}

// indexOf returns the position of key in keys, or -1 if the key was
// found elsewhere, such as a "jku" set.
func indexOf(keys jwk.Set, key jwk.JWK) int {
	for i, k := range keys.All() {
		if k.Equal(key) {
			return i
		}
	}
	return -1
}

// Verify checks the header of the signature entry, then tries the keys
// selected by the key finder in order, and finally checks the payload
// claims. It returns the index in keys of the key that verified the
// signature.
func (l *Loader) Verify(ctx context.Context, sig *jws.JWS, keys jwk.Set) (int, error) {
	index, err := l.verify(ctx, sig, keys)
	l.metrics.RecordVerification(err)
	if err != nil {
		l.logger.Debug("signature verification failed", zap.Error(err))
		return -1, err
	}
	l.logger.Debug("signature verified", zap.Int("index", index))
	return index, nil
}

func (l *Loader) verify(ctx context.Context, sig *jws.JWS, keys jwk.Set) (int, error) {
	complete, err := sig.Header()
	if err != nil {
		return -1, err
	}

	found, err := l.candidates(ctx, sig.ProtectedHeader(), complete, keys)
	if err != nil {
		return -1, err
	}
	if found.Len() == 0 {
		return -1, joseerr.New(joseerr.VerificationFailed, "no candidate key", nil)
	}

	var lastErr error
	for _, key := range found.All() {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		if err := sig.Verify(l.registry, key); err != nil {
			if errors.Is(err, joseerr.ErrUnsupportedAlgorithm) {
				return -1, err
			}
			lastErr = err
			continue
		}
		if err := l.checkClaims(sig.Payload()); err != nil {
			return -1, err
		}
		return indexOf(keys, key), nil
	}
	return -1, joseerr.New(joseerr.VerificationFailed, "no key verified the signature", lastErr)
}

// VerifyAll verifies every signature entry, returning the key index of
// each. The first failure is reported with the index of its entry.
func (l *Loader) VerifyAll(ctx context.Context, sigs []*jws.JWS, keys jwk.Set) ([]int, error) {
	indexes := make([]int, 0, len(sigs))
	for i, sig := range sigs {
		index, err := l.Verify(ctx, sig, keys)
		if err != nil {
			return nil, atIndex(err, i)
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}

// VerifyAny returns the index of the first signature entry that verifies,
// and the index of the key that verified it.
func (l *Loader) VerifyAny(ctx context.Context, sigs []*jws.JWS, keys jwk.Set) (int, int, error) {
	if len(sigs) == 0 {
		return -1, -1, joseerr.New(joseerr.InvalidInput, "no signature to verify", nil)
	}
	var lastErr error
	for i, sig := range sigs {
		index, err := l.Verify(ctx, sig, keys)
		if err == nil {
			return i, index, nil
		}
		lastErr = atIndex(err, i)
	}
	return -1, -1, lastErr
}

// Decrypt checks the header of the recipient entry, then tries the keys
// selected by the key finder in order. The plaintext is decompressed when
// the protected header has a "zip" parameter, and converted according to
// the "cty" parameter. It returns a copy of the entry holding the payload,
// and the index in keys of the key that decrypted it.
func (l *Loader) Decrypt(ctx context.Context, rec *jwe.JWE, keys jwk.Set) (*jwe.JWE, int, error) {
	opened, index, err := l.decrypt(ctx, rec, keys)
	l.metrics.RecordDecryption(err)
	if err != nil {
		l.logger.Debug("decryption failed", zap.Error(err))
		return nil, -1, err
	}
	l.logger.Debug("decrypted", zap.Int("index", index))
	return opened, index, nil
}

func (l *Loader) decrypt(ctx context.Context, rec *jwe.JWE, keys jwk.Set) (*jwe.JWE, int, error) {
	complete, err := rec.Header()
	if err != nil {
		return nil, -1, err
	}

	found, err := l.candidates(ctx, rec.ProtectedHeader(), complete, keys)
	if err != nil {
		return nil, -1, err
	}
	if found.Len() == 0 {
		return nil, -1, joseerr.New(joseerr.DecryptionFailed, "no candidate key", nil)
	}

	var lastErr error
	for _, key := range found.All() {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		plaintext, err := rec.Decrypt(l.registry, key, l.compression)
		if err != nil {
			if errors.Is(err, joseerr.ErrUnsupportedAlgorithm) || errors.Is(err, joseerr.ErrMissingMandatoryParameter) {
				return nil, -1, err
			}
			lastErr = err
			continue
		}

		value, err := l.converter.Decode(complete, plaintext)
		if err != nil {
			return nil, -1, err
		}
		if err := l.checkClaims(value); err != nil {
			return nil, -1, err
		}
		return rec.WithPayload(value), indexOf(keys, key), nil
	}
	return nil, -1, joseerr.New(joseerr.DecryptionFailed, "no key decrypted the content", lastErr)
}

// DecryptAny decrypts the first recipient entry that one of the keys can
// open, returning its index along with the key index.
func (l *Loader) DecryptAny(ctx context.Context, recs []*jwe.JWE, keys jwk.Set) (*jwe.JWE, int, int, error) {
	if len(recs) == 0 {
		return nil, -1, -1, joseerr.New(joseerr.InvalidInput, "no recipient to decrypt", nil)
	}
	var lastErr error
	for i, rec := range recs {
		opened, index, err := l.Decrypt(ctx, rec, keys)
		if err == nil {
			return opened, i, index, nil
		}
		lastErr = atIndex(err, i)
	}
	return nil, -1, -1, lastErr
}

func atIndex(err error, i int) error {
	var jerr *joseerr.Error
	if errors.As(err, &jerr) {
		return jerr.AtIndex(i)
	}
	return err
}
