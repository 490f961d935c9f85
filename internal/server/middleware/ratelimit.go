package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/remails-com/remails/internal/pkg"
)

// RateLimitConfig parameterizes the Redis-backed counter below. The
// management API is an out-of-scope collaborator; this bounds it from
// hammering the core's shared resources (the DB pool, the SMTP
// submission path it feeds) rather than modeling its own SLOs.
type RateLimitConfig struct {
	Enabled    bool
	DefaultRPS int
	Window     time.Duration
}

// RateLimit creates a Redis-backed rate limiter middleware keyed by the
// authenticated tenant. A Redis outage fails open: better to let a burst
// through than to take the management API down because its counter
// store is unreachable.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			auth := GetAuth(r.Context())
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.DefaultRPS
			window := cfg.Window
			if window == 0 {
				window = time.Second
			}

			now := time.Now()
			key := fmt.Sprintf("ratelimit:%s:default:%d", auth.TenantID.String(), now.Unix())

			pipe := rdb.Pipeline()
			incr := pipe.Incr(r.Context(), key)
			pipe.Expire(r.Context(), key, window*2)
			if _, err := pipe.Exec(r.Context()); err != nil {
				next.ServeHTTP(w, r)
				return
			}

			count := incr.Val()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(window).Unix(), 10))

			if int(count) > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				pkg.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
