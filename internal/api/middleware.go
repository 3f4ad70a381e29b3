// Package api implements the REST API: read-only views of hosted games and
// history, and token protected control routes.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/network"
)

// RequireToken rejects requests without the configured bearer token. With
// no token configured every control route is disabled.
func RequireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "control routes are disabled"})
			return
		}
		got := extractBearerToken(c.GetHeader("Authorization"))
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

const (
	limiterPruneEvery = time.Minute
	limiterIdle       = 10 * time.Minute
)

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	limiter *network.IPLimiter

	mu        sync.Mutex
	lastPrune time.Time
}

// NewRateLimiter allows rps requests per second per IP with a burst of
// twice that. rps <= 0 disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{limiter: network.NewIPLimiter(float64(rps), rps*2)}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limiter == nil {
			c.Next()
			return
		}
		rl.prune(time.Now())
		if !rl.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	if now.Sub(rl.lastPrune) < limiterPruneEvery {
		rl.mu.Unlock()
		return
	}
	rl.lastPrune = now
	rl.mu.Unlock()
	rl.limiter.Prune(limiterIdle)
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "warhost")
		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
