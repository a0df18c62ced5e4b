package joseerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	err := Missing("kty")
	require.ErrorIs(t, err, ErrMissingMandatoryParameter)
	require.NotErrorIs(t, err, ErrUnknownParameter)

	wrapped := fmt.Errorf("failed to build key: %w", err)
	require.ErrorIs(t, wrapped, ErrMissingMandatoryParameter)

	var typed *Error
	require.True(t, errors.As(wrapped, &typed))
	require.Equal(t, "kty", typed.Param)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "missing parameter",
			err:  Missing("kty"),
			want: `MissingMandatoryParameter: The parameter "kty" is mandatory.`,
		},
		{
			name: "entry index",
			err:  Malformed("signature", errors.New("bad byte")).AtIndex(1),
			want: `MalformedEncoding (entry 1): invalid "signature" member: bad byte`,
		},
		{
			name: "kind only",
			err:  New(InvalidInput, "", nil),
			want: `InvalidInput`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.EqualError(t, test.err, test.want)
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(CertificateRead, "failed to read certificate", cause)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrCertificateRead)
}
