package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenLength is the number of random bytes in an opaque token
const TokenLength = 32

// GenerateOpaqueToken returns TokenLength random bytes, base64url encoded without padding
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashOpaqueToken is the at-rest form of an opaque token
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// OpaqueTokenMatches compares a presented token with its stored hash in constant time
func OpaqueTokenMatches(token, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashOpaqueToken(token)), []byte(hash)) == 1
}
