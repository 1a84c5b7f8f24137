package service

import (
	"bytes"
	"context"
	"sync"
	"time"

	"account-security-service/internal/models"
	"account-security-service/internal/repository/scylla"
)

// In-memory doubles for the storage and limiter collaborators. They keep
// the same contracts as the real implementations, including the
// compare-and-set semantics of the MFA and token mutations.

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*models.User
	byEmail map[string]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (r *fakeUserRepo) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.UserID] = &clone
	r.byEmail[user.Email] = user.UserID
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	userID, ok := r.byEmail[email]
	r.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return r.GetUserByID(context.Background(), userID)
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, userID, encodedHash string, activate bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return scylla.ErrNotFound
	}
	user.PasswordHash = encodedHash
	user.PasswordSetAt = &at
	user.UpdatedAt = &at
	if activate {
		user.Status = models.StatusActive
		user.EmailVerified = true
	}
	return nil
}

func (r *fakeUserRepo) SetPendingMFASecret(_ context.Context, userID string, secret []byte, encryptedDEK, keyID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return false, scylla.ErrNotFound
	}
	if user.MFAEnabled {
		return false, nil
	}
	user.MFASecret = secret
	user.MFASecretDEK = encryptedDEK
	user.MFASecretKeyID = keyID
	return true, nil
}

func (r *fakeUserRepo) EnableMFA(_ context.Context, userID string, expectedSecret []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return false, scylla.ErrNotFound
	}
	if user.MFAEnabled || !bytes.Equal(user.MFASecret, expectedSecret) {
		return false, nil
	}
	user.MFAEnabled = true
	return true, nil
}

func (r *fakeUserRepo) DisableMFA(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return false, scylla.ErrNotFound
	}
	if !user.MFAEnabled {
		return false, nil
	}
	user.MFAEnabled = false
	user.MFASecret = nil
	user.MFASecretDEK = ""
	user.MFASecretKeyID = ""
	return true, nil
}

func (r *fakeUserRepo) HealthCheck(context.Context) error { return nil }

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.ResetToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*models.ResetToken)}
}

func (r *fakeTokenRepo) SaveToken(_ context.Context, token *models.ResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *token
	r.tokens[token.TokenHash] = &clone
	return nil
}

func (r *fakeTokenRepo) GetTokenByHash(_ context.Context, tokenHash string) (*models.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (r *fakeTokenRepo) RedeemToken(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok || token.RedeemedAt != nil {
		return false, nil
	}
	token.RedeemedAt = &at
	return true, nil
}

func (r *fakeTokenRepo) ReplaceTokensForUser(_ context.Context, token *models.ResetToken) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	invalidated := 0
	for hash, existing := range r.tokens {
		if existing.UserID == token.UserID {
			delete(r.tokens, hash)
			invalidated++
		}
	}
	clone := *token
	r.tokens[token.TokenHash] = &clone
	return invalidated, nil
}

func (r *fakeTokenRepo) DeleteTokensForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for hash, token := range r.tokens {
		if token.UserID == userID {
			delete(r.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeTokenRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for hash, token := range r.tokens {
		if token.ExpiresAt.Before(cutoff) {
			delete(r.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

type fakeLimiter struct {
	mu       sync.Mutex
	failures map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{failures: make(map[string]int)}
}

func (l *fakeLimiter) RecordFailure(_ context.Context, scope, subject string, _ time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[scope+":"+subject]++
	return int64(l.failures[scope+":"+subject]), nil
}

func (l *fakeLimiter) IsLimited(_ context.Context, scope, subject string, max int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[scope+":"+subject] >= max, nil
}

func (l *fakeLimiter) Reset(_ context.Context, scope, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, scope+":"+subject)
	return nil
}

type recordedEvent struct {
	kind      string
	subjectID string
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Record(eventKind, _, subjectID, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{kind: eventKind, subjectID: subjectID})
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.kind)
	}
	return out
}
