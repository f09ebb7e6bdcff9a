package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSecretNotConfigured means signature verification cannot run because
// no webhook secret is set. Requests are still rejected; the error lets
// the handler log a configuration problem instead of a forgery attempt.
var ErrSecretNotConfigured = errors.New("webhook secret not configured")

// VerifySignature checks an X-Hub-Signature-256 header against the raw
// request body. A missing secret fails closed.
func VerifySignature(payload []byte, signatureHeader, secret string) (bool, error) {
	if secret == "" {
		return false, ErrSecretNotConfigured
	}
	if signatureHeader == "" {
		return false, nil
	}

	signature := strings.TrimPrefix(signatureHeader, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected)), nil
}

// VerifyChallenge handles the subscription handshake. The challenge is
// echoed back only for a subscribe request carrying the configured verify
// token.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if mode != "subscribe" || token != verifyToken {
		return "", false
	}
	return challenge, true
}
