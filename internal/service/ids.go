package service

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

func newID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// newVerificationCode returns a random uuid; codes are looked up verbatim.
func newVerificationCode() string {
	return uuid.NewString()
}

// newState and newCodeVerifier both draw 32 random bytes through the oauth2
// library so state and PKCE verifier have the same strength.
func newState() string {
	return oauth2.GenerateVerifier()
}

func newCodeVerifier() string {
	return oauth2.GenerateVerifier()
}
