// passkey-service/internal/utils/errors.go
package utils

import "errors"

var (
	// For rate limiting
	ErrRateLimitExceeded = errors.New("rate_limit_exceeded")

	// Storage not wired yet (nil repository, closed pool).
	ErrStorageUnavailable = errors.New("storage_unavailable")
)
