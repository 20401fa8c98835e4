package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fallbackIPHashSalt keeps address hashing one-way even when no secret is
// configured; the raw client address must never reach storage.
const fallbackIPHashSalt = "contact-rate-limit"

// HashClientAddress returns a salted one-way hash of the client network
// address, used as the rate-limit key and the only address form persisted.
func HashClientAddress(secret string, clientAddress string) string {
	salt := strings.TrimSpace(secret)
	if salt == "" {
		salt = fallbackIPHashSalt
	}
	digest := hmac.New(sha256.New, []byte(salt))
	digest.Write([]byte(clientAddress))
	return hex.EncodeToString(digest.Sum(nil))
}
