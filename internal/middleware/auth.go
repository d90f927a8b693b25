package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clouddrive/server/internal/auth"
	"github.com/google/uuid"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.JWTClaims, error)
}

// AuthMiddleware validates the bearer session token and attaches its claims to the context
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
				respondWithError(w, http.StatusUnauthorized, "No authentication token provided")
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimSpace(parts[1]))
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *auth.JWTClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the claims attached by AuthMiddleware
func GetClaims(ctx context.Context) (*auth.JWTClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.JWTClaims)
	return c, ok && c != nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	c, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.UserID, true
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
