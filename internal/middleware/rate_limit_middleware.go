package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/poofware/passkey-service/internal/utils"
)

// RateLimiter is the check the rate-limit middleware delegates to.
type RateLimiter interface {
	CheckPasskeyRateLimits(ctx context.Context, path string, client utils.ClientIdentifier) error
}

// RateLimitMiddleware answers 429 once any rule for the request path is
// exhausted for the calling client. Storage failures fail open.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			platform := utils.GetClientPlatform(r)
			clientID := utils.GetClientIdentifier(r, platform)

			err := limiter.CheckPasskeyRateLimits(r.Context(), r.URL.Path, clientID)
			switch {
			case err == nil:
			case errors.Is(err, utils.ErrRateLimitExceeded):
				utils.RespondErrorWithCode(
					w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded,
					"Too many requests, please try again later", nil,
				)
				return
			default:
				utils.Logger.WithError(err).Error("Rate limit check failed; allowing request")
			}
			next.ServeHTTP(w, r)
		})
	}
}
