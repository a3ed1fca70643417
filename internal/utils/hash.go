// passkey-service/internal/utils/hash.go

package utils

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken is used for refresh tokens at rest; the raw value only ever
// leaves the service in the authentication response.
func HashToken(raw string) string {
	hasher := sha256.New()
	hasher.Write([]byte(raw))
	return base64.URLEncoding.EncodeToString(hasher.Sum(nil))
}
