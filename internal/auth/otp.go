package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const otpLength = 6

// NormalizeEmail trims and lower-cases an address. OTP records are keyed by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateOTPCode draws length independent uniform decimal digits.
func generateOTPCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp digit: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// hashOTPHex returns SHA-256(email:code:salt) as hex for DB storage
func hashOTPHex(email, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(email, code, salt))
}

func hashOTPBytes(email, code, salt string) []byte {
	hash := sha256.Sum256([]byte(email + ":" + code + ":" + salt))
	return hash[:]
}

func constantTimeCompare(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
