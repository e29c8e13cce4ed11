package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit caps requests per caller in a fixed window. Authenticated callers
// are keyed by user id, anonymous ones by IP. Fails open when Redis is
// down; reservations must not depend on the cache being up.
func (r *RateLimiter) Limit(scope string, max int64, window time.Duration) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		ident := realIP(e.Request)
		if e.Auth != nil {
			ident = "user:" + e.Auth.Id
		}
		ctx := e.Request.Context()

		key := fmt.Sprintf("ratelimit:%s:%s", scope, ident)
		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, window)
		}
		if count > max {
			return apis.NewApiError(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", nil)
		}

		return e.Next()
	}
}

// RequireAdminToken authorizes operator endpoints with a shared token
// checked against its bcrypt hash. An empty configured hash disables the
// endpoints entirely.
func RequireAdminToken(tokenHash string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if tokenHash == "" {
			return apis.NewNotFoundError("Not found", nil)
		}

		token := strings.TrimPrefix(e.Request.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			return apis.NewUnauthorizedError("Admin token required", nil)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			return apis.NewUnauthorizedError("Invalid admin token", nil)
		}

		return e.Next()
	}
}

func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
