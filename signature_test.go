package dbusclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSignatureRoundTrip(t *testing.T) {
	sigs := []string{
		"",
		"y",
		"ii",
		"a{sv}",
		"a(ii)",
		"(yv)",
		"as",
		"a{sa{sv}}",
		"(a{sv}as)",
	}
	for _, s := range sigs {
		t.Run(s, func(t *testing.T) {
			types, err := ParseSignature(s)
			require.NoError(t, err)
			require.Equal(t, s, Signature(types))
		})
	}
}

func TestParseSignatureRejectsMalformed(t *testing.T) {
	bad := []string{
		"(",
		")",
		"a{",
		"a{s}",  // missing value type
		"a{as}", // array is not a basic key type
		"()",    // empty struct
		"z",     // unknown code
		"a",     // array with no element type
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ParseSignature(s)
			require.Error(t, err)
		})
	}
}

func TestDictEntryOnlyRendersOnceInsideArray(t *testing.T) {
	types, err := ParseSignature("a{sv}")
	require.NoError(t, err)
	require.Len(t, types, 1)
	require.Equal(t, "a{sv}", types[0].String())
}
