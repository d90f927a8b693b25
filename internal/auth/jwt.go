package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSessionTTL = 7 * 24 * time.Hour

// JWTClaims represents the session token claims
type JWTClaims struct {
	UserID uuid.UUID `json:"id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies session tokens
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service. ttl <= 0 selects 7 days.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a signed session token for the user
func (s *JWTService) Issue(userID uuid.UUID, email string) (string, error) {
	now := s.now()
	claims := &JWTClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken verifies and parses a session token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}
