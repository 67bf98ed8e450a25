package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"feedsync/internal/metrics"
	"feedsync/internal/ratelimit"
)

// Rule is one admission limit applied to a route
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
}

// RateLimit rejects callers that exceed rule within its sliding window.
// Windows are keyed by rule name and client IP so different rules never share a window.
func RateLimit(limiter ratelimit.Limiter, rule Rule, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RealIP(r)
			key := rule.Name + ":" + ip

			decision, err := limiter.Admit(r.Context(), key, rule.Window, rule.Max)
			if err != nil {
				// バックエンド障害時は通す
				logger.Error().Err(err).Str("rule", rule.Name).Msg("rate limiter unavailable, admitting request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retry := int(decision.RetryAfter / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(retry))

				metrics.RateLimitHits.WithLabelValues(rule.Name).Inc()
				logger.Warn().
					Str("type", "security").
					Str("event", "rate_limit_exceeded").
					Str("ip", ip).
					Str("endpoint", r.URL.Path).
					Str("key", key).
					Msg("rate limit exceeded")

				writeError(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("Too many requests, please retry in %d seconds", retry))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
