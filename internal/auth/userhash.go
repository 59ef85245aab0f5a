package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ComputeUserHash derives the handshake token for a user id: the
// base64-encoded HMAC-SHA256 of the id under the shared secret. Dashboards
// holding the secret mint the token server side and hand it to the browser,
// which cannot forge tokens for other users.
func ComputeUserHash(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyUserHash reports whether the presented token matches the user id.
// Comparison is constant time.
func VerifyUserHash(secret, userID, presented string) bool {
	expected := ComputeUserHash(secret, userID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
