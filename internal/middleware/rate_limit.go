package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/parlourguard/internal/auth"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the default budget for unauthenticated auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP limits requests per client IP. It guards the unauthenticated endpoints
// (login and challenge verification) in front of the per-identity lockout.
// The client IP comes from pkghttp.ExtractClientIP, so forwarding headers only count when the
// peer is one of ipConfig's trusted proxies.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(clientIPKey(ipConfig)),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitBySession limits authenticated requests per session, falling back to the client IP
// when no claims are present. Use after auth.AuthMiddleware.
func RateLimitBySession(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	byIP := clientIPKey(ipConfig)
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetClaimsFromContext(r); claims != nil && claims.SessionID != "" {
				return "session:" + claims.SessionID, nil
			}
			return byIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func clientIPKey(ipConfig *pkghttp.IPConfig) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
}
