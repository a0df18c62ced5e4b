// Package joseerr defines the typed errors returned by the josekit packages.
//
// Every failure carries a Kind, which can be matched with errors.Is against
// the exported sentinel values:
//
//	if errors.Is(err, joseerr.ErrInvalidInput) {
//		// ...
//	}
package joseerr

import (
	"fmt"
	"strings"
)

// Kind identifies a class of failure.
type Kind string

const (
	MissingMandatoryParameter Kind = "MissingMandatoryParameter"
	UnknownParameter          Kind = "UnknownParameter"
	IndexOutOfRange           Kind = "IndexOutOfRange"
	UnrecognizedEnvelope      Kind = "UnrecognizedEnvelope"
	InvalidInput              Kind = "InvalidInput"
	MalformedEncoding         Kind = "MalformedEncoding"
	CertificateRead           Kind = "CertificateReadError"
	UnsupportedKeyAlgorithm   Kind = "UnsupportedKeyAlgorithm"
	DuplicateHeaderParameter  Kind = "DuplicateHeaderParameter"
	UnsupportedAlgorithm      Kind = "UnsupportedAlgorithm"
	VerificationFailed        Kind = "VerificationFailed"
	DecryptionFailed          Kind = "DecryptionFailed"
	CheckFailed               Kind = "CheckFailed"
)

// NoIndex is used for Error.Index when the failure is not tied to a
// signature or recipient entry.
const NoIndex = -1

// Error is a typed error with enough context to diagnose malformed
// input: the parameter name and the signature or recipient entry index
// involved, when known.
type Error struct {
	Kind    Kind
	Message string
	Param   string
	Index   int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Index >= 0 {
		fmt.Fprintf(&b, " (entry %d)", e.Index)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind. This lets the
// sentinel values below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new typed error that is not tied to an entry.
func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Index:   NoIndex,
		Err:     err,
	}
}

// AtIndex returns a copy of the error bound to the given entry index.
func (e *Error) AtIndex(i int) *Error {
	c := *e
	c.Index = i
	return &c
}

// ForParam returns a copy of the error bound to the given parameter name.
func (e *Error) ForParam(name string) *Error {
	c := *e
	c.Param = name
	return &c
}

// Sentinels, for use with errors.Is.
var (
	ErrMissingMandatoryParameter = &Error{Kind: MissingMandatoryParameter, Index: NoIndex}
	ErrUnknownParameter          = &Error{Kind: UnknownParameter, Index: NoIndex}
	ErrIndexOutOfRange           = &Error{Kind: IndexOutOfRange, Index: NoIndex}
	ErrUnrecognizedEnvelope      = &Error{Kind: UnrecognizedEnvelope, Index: NoIndex}
	ErrInvalidInput              = &Error{Kind: InvalidInput, Index: NoIndex}
	ErrMalformedEncoding         = &Error{Kind: MalformedEncoding, Index: NoIndex}
	ErrCertificateRead           = &Error{Kind: CertificateRead, Index: NoIndex}
	ErrUnsupportedKeyAlgorithm   = &Error{Kind: UnsupportedKeyAlgorithm, Index: NoIndex}
	ErrDuplicateHeaderParameter  = &Error{Kind: DuplicateHeaderParameter, Index: NoIndex}
	ErrUnsupportedAlgorithm      = &Error{Kind: UnsupportedAlgorithm, Index: NoIndex}
	ErrVerificationFailed        = &Error{Kind: VerificationFailed, Index: NoIndex}
	ErrDecryptionFailed          = &Error{Kind: DecryptionFailed, Index: NoIndex}
	ErrCheckFailed               = &Error{Kind: CheckFailed, Index: NoIndex}
)

// Malformed returns a MalformedEncoding error for the named member.
func Malformed(param string, err error) *Error {
	return &Error{
		Kind:    MalformedEncoding,
		Message: fmt.Sprintf("invalid %q member", param),
		Param:   param,
		Index:   NoIndex,
		Err:     err,
	}
}

// Missing returns a MissingMandatoryParameter error for the named member.
func Missing(param string) *Error {
	return &Error{
		Kind:    MissingMandatoryParameter,
		Message: fmt.Sprintf("The parameter %q is mandatory.", param),
		Param:   param,
		Index:   NoIndex,
	}
}
