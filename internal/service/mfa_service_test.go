package service

import (
	"bytes"
	"context"
	"encoding/base32"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-security-service/internal/config"
	"account-security-service/internal/encryption"
	"account-security-service/internal/models"
	"account-security-service/internal/totp"
)

type mfaFixture struct {
	svc     *MfaService
	users   *fakeUserRepo
	limiter *fakeLimiter
	sink    *recordingSink
	totp    *totp.Manager
}

func newMfaFixture(t *testing.T) *mfaFixture {
	t.Helper()
	totpMgr := totp.NewManager("AccountSecurity", 1)
	f := &mfaFixture{
		users:   newFakeUserRepo(),
		limiter: newFakeLimiter(),
		sink:    &recordingSink{},
		totp:    totpMgr,
	}
	// KMS disabled: envelopes are wrapped with locally generated keys.
	encryptionMgr := encryption.NewManager(&config.Config{}, nil)
	f.svc = NewMfaService(f.users, totpMgr, encryptionMgr, f.limiter, f.sink, config.MFAConfig{
		Issuer:            "AccountSecurity",
		Skew:              1,
		RecoveryCodeCount: 10,
		MaxAttempts:       5,
		AttemptWindow:     5 * time.Minute,
	})
	return f
}

func (f *mfaFixture) addUser(t *testing.T, userID, email string) {
	t.Helper()
	err := f.users.CreateUser(context.Background(), &models.User{
		UserID:    userID,
		TenantID:  "tenant-1",
		Email:     email,
		Status:    models.StatusActive,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

// enroll drives a user through setup and enablement, returning the shared
// secret for computing codes later.
func (f *mfaFixture) enroll(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, userID)
	require.NoError(t, err)

	code, err := f.totp.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)

	enabled, err := f.svc.VerifyAndEnable(ctx, userID, code)
	require.NoError(t, err)
	require.True(t, enabled)

	return setup.Secret
}

func TestBeginSetupProducesScannableMaterial(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")

	setup, err := f.svc.BeginSetup(context.Background(), "u1")
	require.NoError(t, err)

	// Base32 secret, ready for manual entry.
	_, err = base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(setup.Secret)
	assert.NoError(t, err)

	assert.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
	assert.Contains(t, setup.ProvisioningURI, "AccountSecurity")

	img, err := png.Decode(bytes.NewReader(setup.QRImage))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	assert.Equal(t, []string{models.EventMFASetupStarted}, f.sink.kinds())
}

func TestBeginSetupStoresSecretEncrypted(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, "u1")
	require.NoError(t, err)

	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, user.HasPendingMFASecret())
	assert.False(t, user.MFAEnabled)
	assert.NotEqual(t, []byte(setup.Secret), user.MFASecret,
		"stored secret must be ciphertext, not the base32 plaintext")
	assert.NotEmpty(t, user.MFASecretDEK)
	assert.NotEmpty(t, user.MFASecretKeyID)
}

func TestBeginSetupUnknownUser(t *testing.T) {
	f := newMfaFixture(t)

	_, err := f.svc.BeginSetup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBeginSetupRejectedWhenEnabled(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	f.enroll(t, "u1")

	_, err := f.svc.BeginSetup(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestBeginSetupReplacesPendingSecret(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	ctx := context.Background()

	first, err := f.svc.BeginSetup(ctx, "u1")
	require.NoError(t, err)
	second, err := f.svc.BeginSetup(ctx, "u1")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only a code from the latest secret completes enrollment.
	staleCode, err := f.totp.CurrentCode(first.Secret, time.Now())
	require.NoError(t, err)
	enabled, err := f.svc.VerifyAndEnable(ctx, "u1", staleCode)
	require.NoError(t, err)
	assert.False(t, enabled)

	freshCode, err := f.totp.CurrentCode(second.Secret, time.Now())
	require.NoError(t, err)
	enabled, err = f.svc.VerifyAndEnable(ctx, "u1", freshCode)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestVerifyAndEnableWithoutSetup(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")

	_, err := f.svc.VerifyAndEnable(context.Background(), "u1", "123456")
	assert.ErrorIs(t, err, ErrMFASetupNotStarted)
}

func TestVerifyAndEnableWrongThenRightCode(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, "u1")
	require.NoError(t, err)

	enabled, err := f.svc.VerifyAndEnable(ctx, "u1", "000000")
	require.NoError(t, err)
	assert.False(t, enabled)

	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, user.MFAEnabled, "failed verification must leave the pending state intact")
	assert.True(t, user.HasPendingMFASecret())

	code, err := f.totp.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)
	enabled, err = f.svc.VerifyAndEnable(ctx, "u1", code)
	require.NoError(t, err)
	assert.True(t, enabled)

	on, err := f.svc.IsEnabled(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, on)

	_, err = f.svc.VerifyAndEnable(ctx, "u1", code)
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestVerifyCodeNotEnabled(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")

	_, err := f.svc.VerifyCode(context.Background(), "u1", "123456")
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestVerifyCodeAcceptsAdjacentSteps(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	secret := f.enroll(t, "u1")
	ctx := context.Background()

	base := time.Now()
	f.svc.now = func() time.Time { return base }

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := f.totp.CurrentCode(secret, base.Add(offset))
		require.NoError(t, err)
		valid, err := f.svc.VerifyCode(ctx, "u1", code)
		require.NoError(t, err)
		assert.True(t, valid, "code at offset %v should be accepted", offset)
	}
}

func TestVerifyCodeRejectsDistantSteps(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	secret := f.enroll(t, "u1")
	ctx := context.Background()

	base := time.Now()
	f.svc.now = func() time.Time { return base }

	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		code, err := f.totp.CurrentCode(secret, base.Add(offset))
		require.NoError(t, err)
		valid, err := f.svc.VerifyCode(ctx, "u1", code)
		require.NoError(t, err)
		assert.False(t, valid, "code at offset %v should be rejected", offset)
	}
}

func TestVerifyCodeRateLimited(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	f.enroll(t, "u1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		valid, err := f.svc.VerifyCode(ctx, "u1", "000000")
		require.NoError(t, err)
		assert.False(t, valid)
	}

	_, err := f.svc.VerifyCode(ctx, "u1", "000000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestDisableRequiresValidCode(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	secret := f.enroll(t, "u1")
	ctx := context.Background()

	err := f.svc.Disable(ctx, "u1", "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	on, err := f.svc.IsEnabled(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, on, "failed disable must leave MFA on")

	code, err := f.totp.CurrentCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.Disable(ctx, "u1", code))

	on, err = f.svc.IsEnabled(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, on)

	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.MFASecret, "disable must discard the stored secret")

	_, err = f.svc.VerifyCode(ctx, "u1", code)
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestDisableWhenNotEnabled(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")

	err := f.svc.Disable(context.Background(), "u1", "123456")
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestGenerateRecoveryCodes(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")
	f.enroll(t, "u1")

	codes, err := f.svc.GenerateRecoveryCodes(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.Contains(t, totp.RecoveryCodeAlphabet, string(r))
		}
		assert.False(t, seen[code], "recovery codes must be distinct")
		seen[code] = true
	}
}

func TestGenerateRecoveryCodesRequiresEnabledMFA(t *testing.T) {
	f := newMfaFixture(t)
	f.addUser(t, "u1", "alice@example.com")

	_, err := f.svc.GenerateRecoveryCodes(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}
