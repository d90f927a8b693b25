package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clouddrive/server/internal/auth"
	"github.com/clouddrive/server/internal/middleware"
	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthService is the part of auth.AuthService the HTTP layer uses
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.RegisterResult, error)
	VerifyEmail(ctx context.Context, email, code string) (string, auth.Account, error)
	ResendEmailOTP(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	Me(ctx context.Context, userID uuid.UUID) (auth.Account, error)
	SendPhoneOTP(ctx context.Context, userID uuid.UUID) error
	VerifyPhone(ctx context.Context, userID uuid.UUID, code string) error
	FixUnverifiedUsers(ctx context.Context) (int, error)
	ListActivity(ctx context.Context, userID uuid.UUID) ([]model.Activity, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	responder
	authService AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService, logger *zap.Logger, development bool) *AuthHandler {
	return &AuthHandler{
		responder:   responder{logger: logger, development: development},
		authService: authService,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type registerResponse struct {
	Message              string `json:"message"`
	UserID               string `json:"userId"`
	Email                string `json:"email"`
	RequiresVerification bool   `json:"requiresVerification"`
}

// HandleRegister handles POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(w, r, err, "Registration failed. Please try again.")
		return
	}

	respondJSON(w, http.StatusOK, registerResponse{
		Message:              "Registered! Check your email for OTP.",
		UserID:               res.UserID.String(),
		Email:                res.Email,
		RequiresVerification: true,
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type sessionResponse struct {
	Message string       `json:"message,omitempty"`
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
}

// HandleVerifyEmail handles POST /api/auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	token, acc, err := h.authService.VerifyEmail(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeError(w, r, err, "Verification failed. Please try again.")
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{
		Message: "Email verified successfully",
		Token:   token,
		User:    toUserResponse(acc),
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleResendEmailOTP handles POST /api/auth/resend-email-otp
func (h *AuthHandler) HandleResendEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authService.ResendEmailOTP(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err, "Failed to resend OTP. Please try again.")
		return
	}
	respondWithMessage(w, "OTP sent successfully")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verificationRequiredResponse struct {
	Message              string `json:"message"`
	RequiresVerification bool   `json:"requiresVerification"`
	Email                string `json:"email"`
}

// HandleLogin handles POST /api/auth/login. Unverified accounts get 403 with requiresVerification.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err, "Login failed. Please try again.")
		return
	}

	if res.RequiresVerification {
		respondJSON(w, http.StatusForbidden, verificationRequiredResponse{
			Message:              "Please verify your email first. We've sent you a new OTP.",
			RequiresVerification: true,
			Email:                res.Email,
		})
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{
		Token: res.Token,
		User:  toUserResponse(res.Account),
	})
}

// HandleForgotPassword handles POST /api/auth/forgot-password. The response does not reveal
// whether the account exists.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err, "Failed to process request. Please try again.")
		return
	}
	respondWithMessage(w, "If an account exists, a reset link has been sent")
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.authService.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		h.writeError(w, r, err, "Password reset failed. Please try again.",
			errMessage{auth.ErrExpired, "Reset token has expired. Please request a new one."})
		return
	}
	respondWithMessage(w, "Password reset successful")
}

// HandleLogout handles POST /api/auth/logout. Sessions are stateless; the client drops its token.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	respondWithMessage(w, "Logged out successfully")
}

type meResponse struct {
	User userResponse `json:"user"`
}

// HandleMe handles GET /api/auth/me (protected)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
		return
	}

	acc, err := h.authService.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "Failed to get user")
		return
	}
	respondJSON(w, http.StatusOK, meResponse{User: toUserResponse(acc)})
}

// HandleSendPhoneOTP handles POST /api/auth/phone/send-otp (protected)
func (h *AuthHandler) HandleSendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
		return
	}

	if err := h.authService.SendPhoneOTP(r.Context(), userID); err != nil {
		h.writeError(w, r, err, "Failed to send OTP. Please try again.")
		return
	}
	respondWithMessage(w, "OTP sent successfully")
}

type otpRequest struct {
	OTP string `json:"otp"`
}

// HandleVerifyPhone handles POST /api/auth/phone/verify (protected)
func (h *AuthHandler) HandleVerifyPhone(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
		return
	}
	var req otpRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authService.VerifyPhone(r.Context(), userID, req.OTP); err != nil {
		h.writeError(w, r, err, "Verification failed. Please try again.")
		return
	}
	respondWithMessage(w, "Phone verified successfully")
}

type fixUsersResponse struct {
	Message string `json:"message"`
	Fixed   int    `json:"fixed"`
}

// HandleFixUnverifiedUsers handles POST /api/auth/admin/fix-unverified-users (development only)
func (h *AuthHandler) HandleFixUnverifiedUsers(w http.ResponseWriter, r *http.Request) {
	if !h.development {
		respondWithError(w, http.StatusForbidden, "This endpoint is only available in development")
		return
	}

	fixed, err := h.authService.FixUnverifiedUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to fix users")
		return
	}
	respondJSON(w, http.StatusOK, fixUsersResponse{
		Message: fmt.Sprintf("Successfully fixed %d unverified users", fixed),
		Fixed:   fixed,
	})
}

// HandleListActivity handles GET /api/activity (protected)
func (h *AuthHandler) HandleListActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
		return
	}

	activities, err := h.authService.ListActivity(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "Failed to load activity")
		return
	}
	out := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, toActivityResponse(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func respondWithMessage(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}
