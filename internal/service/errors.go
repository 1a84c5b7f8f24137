package service

import "errors"

// Sentinel errors surfaced to the transport layer. Invalid credentials
// (bad codes, bad or expired tokens) are reported as negative boolean
// results instead, since they are expected and frequent.
var (
	ErrUserNotFound = errors.New("user not found")

	ErrMFAAlreadyEnabled  = errors.New("mfa is already enabled")
	ErrMFASetupNotStarted = errors.New("mfa setup has not been started")
	ErrMFANotEnabled      = errors.New("mfa is not enabled")
	ErrMFAStateConflict   = errors.New("mfa state changed concurrently")
	ErrInvalidCode        = errors.New("invalid verification code")

	ErrTooManyAttempts = errors.New("too many failed attempts")
)
