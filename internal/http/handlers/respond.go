package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clouddrive/server/internal/auth"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// errMessage overrides the default message for one error kind.
type errMessage struct {
	target  error
	message string
}

type errorMapping struct {
	target  error
	status  int
	message string
}

// errorMappings is the single translation from error kind to status and message. Order matters:
// the first match wins.
var errorMappings = []errorMapping{
	{auth.ErrValidation, http.StatusBadRequest, ""},
	{auth.ErrEmailTaken, http.StatusBadRequest, "A user with this email address has already been registered"},
	{auth.ErrInvalidOrUsed, http.StatusBadRequest, "Invalid OTP or OTP already used"},
	{auth.ErrExpired, http.StatusBadRequest, "OTP expired. Please request a new one."},
	{auth.ErrMismatch, http.StatusBadRequest, "Incorrect OTP"},
	{auth.ErrAlreadyUsed, http.StatusBadRequest, "This reset link has already been used. Please request a new one."},
	{auth.ErrNotFound, http.StatusBadRequest, "Invalid or expired reset token. Please request a new password reset link."},
	{auth.ErrEmailAlreadyVerified, http.StatusBadRequest, "Email already verified"},
	{auth.ErrPhoneMissing, http.StatusBadRequest, "No phone number on file"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{auth.ErrTooManyRequests, http.StatusTooManyRequests, "Too many OTP requests, please try again later"},
	{auth.ErrDispatch, http.StatusInternalServerError, "Failed to send notification. Please request a new code."},
}

// responder writes JSON bodies and error responses for every handler.
type responder struct {
	logger      *zap.Logger
	development bool
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"message": message})
}

// writeError maps err to a status and message. Unmapped errors become 500 with fallback;
// in development the raw error is added under "error".
func (rs responder) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string, overrides ...errMessage) {
	status, message := http.StatusInternalServerError, fallback
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status, message = m.status, m.message
			if message == "" {
				message = err.Error()
			}
			break
		}
	}
	for _, o := range overrides {
		if errors.Is(err, o.target) {
			message = o.message
			break
		}
	}

	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}

	body := map[string]string{"message": message}
	if rs.development && status >= http.StatusInternalServerError {
		body["error"] = err.Error()
	}
	respondJSON(w, status, body)
}

// decode reads a JSON body. It writes the 400 itself and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
