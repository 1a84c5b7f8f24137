package totp

import (
	"bytes"
	"encoding/base32"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	m := NewManager("AccountSecurity", 1)

	secret, uri, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, secretSize)

	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "alice@example.com")
	assert.Contains(t, uri, "AccountSecurity")

	// Every call mints independent material.
	second, _, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, secret, second)
}

func TestValidateSkewWindow(t *testing.T) {
	m := NewManager("AccountSecurity", 1)
	secret, _, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)

	cases := []struct {
		offset time.Duration
		want   bool
	}{
		{-60 * time.Second, false},
		{-30 * time.Second, true},
		{0, true},
		{30 * time.Second, true},
		{60 * time.Second, false},
	}

	for _, tc := range cases {
		code, err := m.CurrentCode(secret, at.Add(tc.offset))
		require.NoError(t, err)
		assert.Equal(t, tc.want, m.Validate(code, secret, at),
			"code generated at offset %v", tc.offset)
	}
}

func TestValidateRejectsMalformedCode(t *testing.T) {
	m := NewManager("AccountSecurity", 1)
	secret, _, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	assert.False(t, m.Validate("", secret, at))
	assert.False(t, m.Validate("12345", secret, at))
	assert.False(t, m.Validate("abcdef", secret, at))
}

func TestZeroSkewAcceptsOnlyCurrentStep(t *testing.T) {
	m := NewManager("AccountSecurity", 0)
	secret, _, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)

	current, err := m.CurrentCode(secret, at)
	require.NoError(t, err)
	previous, err := m.CurrentCode(secret, at.Add(-30*time.Second))
	require.NoError(t, err)

	assert.True(t, m.Validate(current, secret, at))
	assert.False(t, m.Validate(previous, secret, at))
}

func TestQRImage(t *testing.T) {
	m := NewManager("AccountSecurity", 1)
	_, uri, err := m.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	data, err := m.QRImage(uri)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, qrSize, img.Bounds().Dx())
	assert.Equal(t, qrSize, img.Bounds().Dy())
}

func TestQRImageRejectsBadURI(t *testing.T) {
	m := NewManager("AccountSecurity", 1)

	_, err := m.QRImage("://not a uri")
	assert.Error(t, err)
}
