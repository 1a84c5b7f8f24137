package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"account-security-service/internal/service"
	"account-security-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minPasswordLength = 8

// TokenDelivery hands an issued reset token to the channel that reaches
// the user, typically a mailer. It must never write the token to a log.
type TokenDelivery func(ctx context.Context, email, token string)

// AccountSecurityHandler exposes the password-reset and MFA coordinators
// over HTTP.
type AccountSecurityHandler struct {
	resets   *service.PasswordResetService
	mfa      *service.MfaService
	delivery TokenDelivery
	logger   *zap.Logger
}

func NewAccountSecurityHandler(
	resets *service.PasswordResetService,
	mfa *service.MfaService,
	delivery TokenDelivery,
	logger *zap.Logger,
) *AccountSecurityHandler {
	if delivery == nil {
		delivery = func(ctx context.Context, email, token string) {
			util.Debug("No token delivery configured, dropping issued token")
		}
	}
	return &AccountSecurityHandler{
		resets:   resets,
		mfa:      mfa,
		delivery: delivery,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// RegisterRoutes registers the password-reset and MFA routes
func (h *AccountSecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/password-reset", func(r chi.Router) {
		r.Post("/request", h.RequestReset)
		r.Post("/confirm", h.ConfirmReset)
		r.Post("/validate", h.ValidateResetToken)
	})

	router.Route("/mfa/{userID}", func(r chi.Router) {
		// Add auth middleware here in production
		r.Get("/", h.GetMFAStatus)
		r.Post("/setup", h.BeginMFASetup)
		r.Post("/enable", h.EnableMFA)
		r.Post("/verify", h.VerifyMFACode)
		r.Post("/disable", h.DisableMFA)
		r.Post("/recovery-codes", h.GenerateRecoveryCodes)
	})
}

// RequestReset handles password reset requests
// @Summary Request a password reset
// @Description Issue a single-use reset token for the given email address
// @Tags password-reset
// @Accept json
// @Produce json
// @Success 202 {object} Response
// @Failure 400 {object} Response
// @Router /password-reset/request [post]
func (h *AccountSecurityHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("email is required"), "Email is required")
		return
	}

	token, ok, err := h.resets.RequestReset(ctx, req.Email)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to process reset request")
		return
	}
	if ok {
		go h.delivery(context.WithoutCancel(ctx), req.Email, token)
	}

	// The response is identical whether or not the address is known, so
	// this endpoint cannot be used to probe for registered accounts.
	h.respondWithJSON(w, http.StatusAccepted,
		successResponse(nil, "If the address is registered, a reset link has been sent"))
	h.logger.Info("Password reset requested via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestReset"),
	)
}

// ConfirmReset handles password reset confirmation
// @Summary Confirm a password reset
// @Description Redeem a reset token and set the new password
// @Tags password-reset
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /password-reset/confirm [post]
func (h *AccountSecurityHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Token == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("token is required"), "Token is required")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		h.respondWithError(w, http.StatusBadRequest, errors.New("password too short"), "Password must be at least 8 characters")
		return
	}

	ok, err := h.resets.ResetPassword(ctx, req.Token, req.NewPassword)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to reset password")
		return
	}
	if !ok {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("invalid or expired token"), "Reset token was not accepted")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password updated successfully"))
	h.logger.Info("Password reset confirmed via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ConfirmReset"),
	)
}

// ValidateResetToken handles reset token validation
// @Summary Validate a reset token
// @Description Check whether a reset token would currently be accepted
// @Tags password-reset
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /password-reset/validate [post]
func (h *AccountSecurityHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	valid, err := h.resets.ValidateToken(ctx, req.Token)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to validate token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"valid": valid}, "Token checked"))
}

// GetMFAStatus handles MFA status queries
// @Summary Get MFA status
// @Description Report whether the account has a confirmed second factor
// @Tags mfa
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /mfa/{userID} [get]
func (h *AccountSecurityHandler) GetMFAStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	enabled, err := h.mfa.IsEnabled(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get MFA status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"enabled": enabled}, "MFA status retrieved"))
}

// BeginMFASetup handles MFA enrollment start
// @Summary Begin MFA setup
// @Description Generate a TOTP secret and provisioning QR for the account
// @Tags mfa
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /mfa/{userID}/setup [post]
func (h *AccountSecurityHandler) BeginMFASetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	setup, err := h.mfa.BeginSetup(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to begin MFA setup")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"qr_image":         setup.QRImage,
	}, "MFA setup started"))
	h.logger.Info("MFA setup started via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "BeginMFASetup"),
	)
}

// EnableMFA handles MFA enrollment confirmation
// @Summary Enable MFA
// @Description Verify a code from the pending secret and turn MFA on
// @Tags mfa
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 429 {object} Response
// @Router /mfa/{userID}/enable [post]
func (h *AccountSecurityHandler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	code, ok := h.codeBody(w, r)
	if !ok {
		return
	}

	enabled, err := h.mfa.VerifyAndEnable(ctx, userID, code)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to enable MFA")
		return
	}
	if !enabled {
		h.respondWithError(w, http.StatusBadRequest,
			service.ErrInvalidCode, "Verification code was not accepted")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "MFA enabled successfully"))
	h.logger.Info("MFA enabled via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "EnableMFA"),
	)
}

// VerifyMFACode handles second-factor verification
// @Summary Verify an MFA code
// @Description Check a TOTP code against the account's confirmed secret
// @Tags mfa
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 429 {object} Response
// @Router /mfa/{userID}/verify [post]
func (h *AccountSecurityHandler) VerifyMFACode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	code, ok := h.codeBody(w, r)
	if !ok {
		return
	}

	valid, err := h.mfa.VerifyCode(ctx, userID, code)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to verify code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"valid": valid}, "Code checked"))
}

// DisableMFA handles MFA removal
// @Summary Disable MFA
// @Description Verify a current code and remove the second factor
// @Tags mfa
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 429 {object} Response
// @Router /mfa/{userID}/disable [post]
func (h *AccountSecurityHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	code, ok := h.codeBody(w, r)
	if !ok {
		return
	}

	if err := h.mfa.Disable(ctx, userID, code); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to disable MFA")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "MFA disabled successfully"))
	h.logger.Warn("MFA disabled via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "DisableMFA"),
	)
}

// GenerateRecoveryCodes handles recovery-code issuance
// @Summary Generate recovery codes
// @Description Issue a fresh batch of single-use fallback codes
// @Tags mfa
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /mfa/{userID}/recovery-codes [post]
func (h *AccountSecurityHandler) GenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	codes, err := h.mfa.GenerateRecoveryCodes(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to generate recovery codes")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{"codes": codes}, "Recovery codes issued"))
	h.logger.Info("Recovery codes issued via HTTP",
		util.String("user_id", userID),
		util.String("method", "GenerateRecoveryCodes"),
	)
}

// Helper Methods

// userIDParam extracts and validates the userID path parameter.
func (h *AccountSecurityHandler) userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userIDStr := chi.URLParam(r, "userID")
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid user ID format")
		return "", false
	}
	return userID.String(), true
}

// codeBody decodes the {"code": "..."} request body.
func (h *AccountSecurityHandler) codeBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return "", false
	}
	if req.Code == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("code is required"), "Verification code is required")
		return "", false
	}
	return req.Code, true
}

// respondWithJSON sends a JSON response
func (h *AccountSecurityHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AccountSecurityHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AccountSecurityHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrMFAAlreadyEnabled),
		errors.Is(err, service.ErrMFANotEnabled),
		errors.Is(err, service.ErrMFASetupNotStarted),
		errors.Is(err, service.ErrMFAStateConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
