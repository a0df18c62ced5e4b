// Package checker validates the semantics of JOSE headers and JWT claims,
// independently of how the envelope was parsed or verified.
package checker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"
)

// Registered Claim Names
//
// https://datatracker.ietf.org/doc/html/rfc7519#section-4.1
const (
	Issuer         = "iss"
	Subject        = "sub"
	Audience       = "aud"
	ExpirationTime = "exp"
	NotBefore      = "nbf"
	IssuedAt       = "iat"
	JWTID          = "jti"
)

// Checker validates a protected header, a complete header, and a payload.
type Checker interface {
	CheckHeader(protected, complete header.Parameters) error
	CheckClaims(payload any) error
}

// Clock is type used to represent a function that returns the current time.
type Clock func() time.Time

// Config holds the checks applied by a Manager.
type Config struct {
	// InsecureAllowNone allows the "none" algorithm to be used, which
	// is considered insecure, dangerous, and disabled by default. It must be
	// set in addition to being enabled in the allowed algorithms.
	InsecureAllowNone bool

	// AllowedAlgorithms restricts the "alg" header parameter.
	//
	// If not set, then any algorithm other than "none" is allowed.
	AllowedAlgorithms jwa.AllowedAlgorithms

	// SupportedCritical lists the extension parameters the application
	// understands, and may thus appear in "crit".
	SupportedCritical []string

	// AllowedIssuers is a set of allowed issuers.
	//
	// If not set, then any issuers are allowed.
	AllowedIssuers []string

	// AllowedAudiences is a set of allowed audiences.
	//
	// If not set, then any audiences are allowed.
	AllowedAudiences []string

	// RequiredClaims must be present in the payload claims.
	RequiredClaims []string

	// Clock is used to verify the "exp", "nbf", and "iat" claims.
	Clock Clock

	// ClockSkew is the leeway applied to time based claims.
	ClockSkew time.Duration
}

// Option is a functional option type used to configure a Manager.
type Option func(*Config) error

// WithAllowInsecureNoneAlgorithm allows the "none" algorithm to be used.
//
// # WARNING
//
// This is not recommended, and should only be used
// for testing purposes.
func WithAllowInsecureNoneAlgorithm(value bool) Option {
	return func(c *Config) error {
		c.InsecureAllowNone = value
		return nil
	}
}

// WithAllowedAlgorithms sets the allowed "alg" values.
func WithAllowedAlgorithms(algs ...jwa.Algorithm) Option {
	return func(c *Config) error {
		c.AllowedAlgorithms = jwa.NewAllowedAlgorithms(algs...)
		return nil
	}
}

// WithSupportedCriticalHeaders sets the extension parameters that may be
// listed in "crit".
func WithSupportedCriticalHeaders(names ...string) Option {
	return func(c *Config) error {
		for _, name := range names {
			if slices.Contains(standardHeaders, name) {
				return fmt.Errorf("%q is a standard header and cannot be supported as critical", name)
			}
		}
		c.SupportedCritical = names
		return nil
	}
}

// WithAllowedIssuers sets the allowed issuers.
func WithAllowedIssuers(issuers ...string) Option {
	return func(c *Config) error {
		c.AllowedIssuers = issuers
		return nil
	}
}

// WithAllowedAudiences sets the allowed audiences.
func WithAllowedAudiences(audiences ...string) Option {
	return func(c *Config) error {
		c.AllowedAudiences = audiences
		return nil
	}
}

// WithRequiredClaims sets the claims that must be present.
func WithRequiredClaims(names ...string) Option {
	return func(c *Config) error {
		c.RequiredClaims = names
		return nil
	}
}

// WithClock sets the clock function.
func WithClock(clock Clock) Option {
	return func(c *Config) error {
		if clock == nil {
			return fmt.Errorf("clock must not be nil")
		}
		c.Clock = clock
		return nil
	}
}

// WithClockSkew sets the leeway for time based claims.
func WithClockSkew(skew time.Duration) Option {
	return func(c *Config) error {
		if skew < 0 {
			return fmt.Errorf("clock skew must not be negative: %v", skew)
		}
		c.ClockSkew = skew
		return nil
	}
}

// Manager applies the configured checks. It is immutable once built and
// safe for concurrent use.
type Manager struct {
	config Config
}

// New returns a Manager with the given options applied over the defaults.
func New(opts ...Option) (*Manager, error) {
	config := Config{
		Clock: time.Now,
	}
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, fmt.Errorf("checker option error: %w", err)
		}
	}
	return &Manager{config: config}, nil
}

// Config returns a copy of the configuration.
func (m *Manager) Config() Config {
	return m.config
}

func failed(param, format string, args ...any) error {
	return joseerr.New(joseerr.CheckFailed, fmt.Sprintf(format, args...), nil).ForParam(param)
}

// standardHeaders cannot be marked as critical.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-4.1.11
var standardHeaders = []string{
	header.Type, header.Algorithm, header.JWKSetURL, header.JSONWebKey,
	header.X509URL, header.X509CertificateChain, header.X509CertificateSHA1Thumbprint,
	header.X509CertificateSHA256Thumbprint, header.ContentType, header.Critical,
	header.Encryption, header.Zip, header.KeyID,
}

// CheckHeader validates the algorithm and the critical parameters. The
// "crit" parameter must be integrity protected, so it is read from the
// protected header only.
func (m *Manager) CheckHeader(protected, complete header.Parameters) error {
	alg, err := complete.Algorithm()
	if err != nil {
		return failed(header.Algorithm, "missing or invalid algorithm")
	}
	if err := m.checkAlgorithm(alg); err != nil {
		return err
	}

	if complete.Has(header.Critical) && !protected.Has(header.Critical) {
		return failed(header.Critical, "critical header parameter %q must be integrity protected", header.Critical)
	}
	return m.checkCritical(protected, complete)
}

func (m *Manager) checkAlgorithm(alg jwa.Algorithm) error {
	if alg == jwa.None && !m.config.InsecureAllowNone {
		return failed(header.Algorithm, "requested algorithm %q is not allowed", alg)
	}
	if len(m.config.AllowedAlgorithms) > 0 {
		if !m.config.AllowedAlgorithms.Allowed(alg) {
			return failed(header.Algorithm, "requested algorithm %q is not allowed", alg)
		}
	}
	return nil
}

func (m *Manager) checkCritical(protected, complete header.Parameters) error {
	value, ok := protected.Map.Get(header.Critical)
	if !ok {
		return nil
	}

	if _, isList := value.([]any); !isList {
		if _, isStrings := value.([]string); !isStrings {
			return failed(header.Critical, "critical header parameter %q must be an array", header.Critical)
		}
	}

	names, err := protected.Critical()
	if err != nil {
		return failed(header.Critical, "critical header parameter names must be strings")
	}
	if len(names) == 0 {
		return failed(header.Critical, "critical header parameter %q must not be empty", header.Critical)
	}

	for _, name := range names {
		if slices.Contains(standardHeaders, name) {
			return failed(header.Critical, "critical header parameter %q is a standard header and cannot be marked as critical", name)
		}
		if !slices.Contains(m.config.SupportedCritical, name) {
			return failed(header.Critical, "unsupported critical header parameter: %q", name)
		}
		if !complete.Has(name) {
			return failed(header.Critical, "critical header parameter %q is missing from header", name)
		}
	}
	return nil
}

// CheckClaims validates the registered claims of a JSON object payload.
// Payloads that are not JSON objects carry no claims and pass.
func (m *Manager) CheckClaims(payload any) error {
	claims, ok := claimsOf(payload)
	if !ok {
		if len(m.config.RequiredClaims) > 0 {
			return failed("payload", "payload does not contain a claims set")
		}
		return nil
	}

	for _, name := range m.config.RequiredClaims {
		if !claims.Has(name) {
			return failed(name, "required claim %q is missing", name)
		}
	}

	now := m.config.Clock()
	skew := m.config.ClockSkew

	if exp, ok, err := numericDate(claims, ExpirationTime); err != nil {
		return err
	} else if ok && !now.Before(exp.Add(skew)) {
		return failed(ExpirationTime, "token is expired")
	}

	if nbf, ok, err := numericDate(claims, NotBefore); err != nil {
		return err
	} else if ok && now.Add(skew).Before(nbf) {
		return failed(NotBefore, "token is unable to be used before %v", nbf)
	}

	if iat, ok, err := numericDate(claims, IssuedAt); err != nil {
		return err
	} else if ok && now.Add(skew).Before(iat) {
		return failed(IssuedAt, "token is issued in the future at %v", iat)
	}

	if m.config.AllowedIssuers != nil {
		value, _ := claims.Get(Issuer)
		issuer, _ := value.(string)
		if !slices.Contains(m.config.AllowedIssuers, issuer) {
			return failed(Issuer, "requested issuer %q is not allowed", issuer)
		}
	}

	if m.config.AllowedAudiences != nil {
		audiences, err := audienceOf(claims)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(audiences, func(aud string) bool {
			return slices.Contains(m.config.AllowedAudiences, aud)
		}) {
			return failed(Audience, "requested audience %q is not allowed", audiences)
		}
	}

	return nil
}

// claimsOf returns the payload as a JSON object, if it is one.
func claimsOf(payload any) (ordered.Map, bool) {
	switch v := payload.(type) {
	case ordered.Map:
		return v, true
	case []byte:
		trimmed := bytes.TrimSpace(v)
		if !gjson.ValidBytes(trimmed) {
			return ordered.Map{}, false
		}
		result := gjson.ParseBytes(trimmed)
		if !result.IsObject() {
			return ordered.Map{}, false
		}
		claims, err := ordered.FromJSON(result)
		if err != nil {
			return ordered.Map{}, false
		}
		return claims, true
	default:
		return ordered.Map{}, false
	}
}

// numericDate reads a NumericDate claim: seconds since the epoch, possibly
// fractional.
//
// https://datatracker.ietf.org/doc/html/rfc7519#section-2
func numericDate(claims ordered.Map, name string) (time.Time, bool, error) {
	value, ok := claims.Get(name)
	if !ok {
		return time.Time{}, false, nil
	}

	var seconds float64
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false, failed(name, "invalid value %q for %q", v, name)
		}
		seconds = f
	case int64:
		seconds = float64(v)
	case int:
		seconds = float64(v)
	case float64:
		seconds = v
	case time.Time:
		return v, true, nil
	default:
		return time.Time{}, false, failed(name, "invalid value %v for %q", value, name)
	}

	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)), true, nil
}

// audienceOf reads "aud", a string or an array of strings.
func audienceOf(claims ordered.Map) ([]string, error) {
	value, ok := claims.Get(Audience)
	if !ok {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		audiences := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, failed(Audience, "invalid audience %v", item)
			}
			audiences = append(audiences, s)
		}
		return audiences, nil
	default:
		return nil, failed(Audience, "invalid value %v for %q", value, Audience)
	}
}

var _ Checker = (*Manager)(nil)
