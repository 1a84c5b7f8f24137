package models

import "time"

// Audit event kinds emitted by the coordinators.
const (
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordResetCompleted = "password_reset_completed"
	EventPasswordResetFailed    = "password_reset_failed"
	EventMFASetupStarted        = "mfa_setup_started"
	EventMFAEnabled             = "mfa_enabled"
	EventMFADisabled            = "mfa_disabled"
	EventMFAVerifyFailed        = "mfa_verify_failed"
	EventRecoveryCodesIssued    = "recovery_codes_issued"
)

// Subject types for audit events.
const (
	SubjectUser  = "user"
	SubjectToken = "reset_token"
)

type AuditEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Message     string    `json:"message"`
	EventTime   time.Time `json:"event_time"`
}
