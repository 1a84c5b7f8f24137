package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-security-service/internal/config"
	"account-security-service/internal/hashing"
	"account-security-service/internal/models"
	"account-security-service/internal/util"
)

func init() {
	util.Init("test", "error", "console")
}

func testHasher() *hashing.Hasher {
	// Low-cost parameters keep the suite fast; the encoding format is the
	// same as production.
	return hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

type resetFixture struct {
	svc     *PasswordResetService
	users   *fakeUserRepo
	tokens  *fakeTokenRepo
	limiter *fakeLimiter
	sink    *recordingSink
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		users:   newFakeUserRepo(),
		tokens:  newFakeTokenRepo(),
		limiter: newFakeLimiter(),
		sink:    &recordingSink{},
	}
	f.svc = NewPasswordResetService(f.users, f.tokens, testHasher(), f.limiter, f.sink, config.ResetConfig{
		TokenTTL:      24 * time.Hour,
		MaxAttempts:   5,
		AttemptWindow: 15 * time.Minute,
	})
	return f
}

func (f *resetFixture) addUser(t *testing.T, userID, email, status string) {
	t.Helper()
	err := f.users.CreateUser(context.Background(), &models.User{
		UserID:    userID,
		TenantID:  "tenant-1",
		Email:     email,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestRequestResetUnknownEmail(t *testing.T) {
	f := newResetFixture(t)

	token, ok, err := f.svc.RequestReset(context.Background(), "nobody@example.com")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Zero(t, f.tokens.count())
	assert.Empty(t, f.sink.kinds())
}

func TestRequestResetIssuesHashedToken(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)

	token, ok, err := f.svc.RequestReset(context.Background(), "Alice@Example.com ")

	require.NoError(t, err)
	require.True(t, ok)
	// 32 random bytes, URL-safe base64 without padding.
	assert.Len(t, token, 43)

	sum := sha256.Sum256([]byte(token))
	record, err := f.tokens.GetTokenByHash(context.Background(), hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, "u1", record.UserID)
	assert.Nil(t, record.RedeemedAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), record.ExpiresAt, time.Minute)

	assert.Equal(t, []string{models.EventPasswordResetRequested}, f.sink.kinds())
}

func TestRequestResetInvalidatesPriorToken(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	first, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	second, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, f.tokens.count())

	ok, err := f.svc.ResetPassword(ctx, first, "brand-new-password")
	require.NoError(t, err)
	assert.False(t, ok, "superseded token must not redeem")

	ok, err = f.svc.ResetPassword(ctx, second, "brand-new-password")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetPasswordInstallsCredential(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	token, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	ok, err := f.svc.ResetPassword(ctx, token, "correct horse battery")
	require.NoError(t, err)
	require.True(t, ok)

	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, user.PasswordHash)
	require.NotNil(t, user.PasswordSetAt)

	match, err := testHasher().Verify("correct horse battery", user.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
	match, err = testHasher().Verify("wrong password", user.PasswordHash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestResetPasswordActivatesInvitedAccount(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "invitee@example.com", models.StatusInvited)
	ctx := context.Background()

	token, _, err := f.svc.RequestReset(ctx, "invitee@example.com")
	require.NoError(t, err)

	ok, err := f.svc.ResetPassword(ctx, token, "first-ever-password")
	require.NoError(t, err)
	require.True(t, ok)

	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, user.Status)
	assert.True(t, user.EmailVerified)
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	token, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	ok, err := f.svc.ResetPassword(ctx, token, "the-first-password")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.ResetPassword(ctx, token, "the-second-password")
	require.NoError(t, err)
	assert.False(t, ok, "redeemed token must not redeem again")

	// The first password must still be the active credential.
	user, err := f.users.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	match, err := testHasher().Verify("the-first-password", user.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	issued := time.Now().UTC()
	token, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return issued.Add(25 * time.Hour) }

	ok, err := f.svc.ResetPassword(ctx, token, "too-late-password")
	require.NoError(t, err)
	assert.False(t, ok)

	valid, err := f.svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestResetPasswordStillValidBeforeExpiry(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	issued := time.Now().UTC()
	token, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return issued.Add(23 * time.Hour) }

	ok, err := f.svc.ResetPassword(ctx, token, "just-in-time-password")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetPasswordUnknownToken(t *testing.T) {
	f := newResetFixture(t)

	ok, err := f.svc.ResetPassword(context.Background(), "not-a-real-token", "whatever-password")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{models.EventPasswordResetFailed}, f.sink.kinds())
}

func TestResetPasswordRateLimited(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := f.svc.ResetPassword(ctx, "guessed-token", "whatever-password")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	_, err := f.svc.ResetPassword(ctx, "guessed-token", "whatever-password")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestValidateAndResolveToken(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "alice@example.com", models.StatusActive)
	ctx := context.Background()

	token, _, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)

	valid, err := f.svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)

	userID, ok, err := f.svc.ResolveUser(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	// Validation must not consume the token.
	ok, err = f.svc.ResetPassword(ctx, token, "validated-then-used")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = f.svc.ResolveUser(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeExpiredRemovesOnlyStaleTokens(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.tokens.SaveToken(ctx, &models.ResetToken{
		TokenHash: "stale", UserID: "u1", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, f.tokens.SaveToken(ctx, &models.ResetToken{
		TokenHash: "live", UserID: "u1", ExpiresAt: now.Add(time.Hour),
	}))

	deleted, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, f.tokens.count())

	_, err = f.tokens.GetTokenByHash(ctx, "live")
	assert.NoError(t, err)
}
