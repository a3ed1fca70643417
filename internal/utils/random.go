// passkey-service/internal/utils/random.go

package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomToken returns n bytes from crypto/rand, base64url encoded without
// padding. Challenges use n=32 (256 bits).
func RandomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
