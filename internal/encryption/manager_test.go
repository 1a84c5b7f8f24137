package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-security-service/internal/config"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := NewManager(&config.Config{}, nil)
	ctx := context.Background()

	secret := []byte("JBSWY3DPEHPK3PXP")

	envelope, err := m.EncryptSecret(ctx, secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, envelope.Ciphertext)
	assert.NotEmpty(t, envelope.EncryptedDEK)
	assert.NotEmpty(t, envelope.KeyID)

	decrypted, err := m.DecryptSecret(ctx, envelope)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestEachEnvelopeGetsItsOwnKey(t *testing.T) {
	m := NewManager(&config.Config{}, nil)
	ctx := context.Background()

	first, err := m.EncryptSecret(ctx, []byte("same secret"))
	require.NoError(t, err)
	second, err := m.EncryptSecret(ctx, []byte("same secret"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
	assert.NotEqual(t, first.EncryptedDEK, second.EncryptedDEK)
	assert.NotEqual(t, first.KeyID, second.KeyID)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m := NewManager(&config.Config{}, nil)
	ctx := context.Background()

	envelope, err := m.EncryptSecret(ctx, []byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	envelope.Ciphertext[len(envelope.Ciphertext)-1] ^= 0x01

	_, err = m.DecryptSecret(ctx, envelope)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	m := NewManager(&config.Config{}, nil)
	ctx := context.Background()

	envelope, err := m.EncryptSecret(ctx, []byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	other, err := m.EncryptSecret(ctx, []byte("different"))
	require.NoError(t, err)

	envelope.EncryptedDEK = other.EncryptedDEK

	_, err = m.DecryptSecret(ctx, envelope)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	m := NewManager(&config.Config{}, nil)
	ctx := context.Background()

	envelope, err := m.EncryptSecret(ctx, []byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	envelope.Ciphertext = envelope.Ciphertext[:4]

	_, err = m.DecryptSecret(ctx, envelope)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
