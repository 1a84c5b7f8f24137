package totp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(10, 8)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.Len(t, code, 8)
		for i := 0; i < len(code); i++ {
			assert.True(t, strings.ContainsRune(RecoveryCodeAlphabet, rune(code[i])),
				"unexpected character %q in code %q", code[i], code)
		}
		assert.False(t, seen[code], "codes must be distinct")
		seen[code] = true
	}
}

func TestGenerateRecoveryCodesAvoidsAmbiguousCharacters(t *testing.T) {
	for _, forbidden := range []string{"I", "O", "0", "1"} {
		assert.NotContains(t, RecoveryCodeAlphabet, forbidden)
	}

	codes, err := GenerateRecoveryCodes(50, 8)
	require.NoError(t, err)
	for _, code := range codes {
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")
	}
}

func TestGenerateRecoveryCodesRejectsBadDimensions(t *testing.T) {
	_, err := GenerateRecoveryCodes(0, 8)
	assert.Error(t, err)
	_, err = GenerateRecoveryCodes(10, 0)
	assert.Error(t, err)
	_, err = GenerateRecoveryCodes(-1, -1)
	assert.Error(t, err)
}
