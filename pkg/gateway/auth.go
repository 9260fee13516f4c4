package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// challengeBytes is the size of the random nonce a client must sign.
	challengeBytes = 32
	// maxAuthAttempts is the number of bad signatures tolerated before
	// the connection is dropped.
	maxAuthAttempts = 3
)

// AuthHandler runs challenge-response authentication for the lifecycle feed.
// The HTTP endpoints carry the shared secret in a header; browser websockets
// cannot, so feed clients prove knowledge of the secret by signing a
// server-issued nonce with HMAC-SHA256 instead.
type AuthHandler struct {
	sharedSecret string
}

func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{sharedSecret: sharedSecret}
}

// signChallenge computes the hex HMAC-SHA256 of a challenge under a secret.
func signChallenge(secret, challenge string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateChallenge returns a fresh random nonce, hex encoded.
func (a *AuthHandler) GenerateChallenge() (string, error) {
	nonce := make([]byte, challengeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

// VerifySignature reports whether signature is a valid HMAC over challenge.
// Comparison is constant time.
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := signChallenge(a.sharedSecret, challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func authFailure(message string) AuthResult {
	return AuthResult{Event: "auth.failure", Message: message}
}

// HandleAuthResponse checks a client's signed nonce and updates its state.
// The challenge is cleared on success so the signature cannot be replayed.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return authFailure("No challenge found")
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return authFailure("Too many failed attempts")
		}
		return authFailure("Invalid signature")
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{Event: "auth.success", Success: true}
}
