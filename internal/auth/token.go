package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const resetTokenBytes = 32

// GenerateResetToken returns a random hex token (32 bytes, 64 characters) and its SHA-256 hash as hex
func GenerateResetToken() (token string, hashHex string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, HashResetToken(token), nil
}

// HashResetToken returns SHA-256 hex of the token
func HashResetToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
