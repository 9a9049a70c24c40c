package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type requesterKey struct{}

// WithRequester returns ctx carrying r
func WithRequester(ctx context.Context, r *domain.Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, r)
}

// RequesterFromContext returns the requester set by AuthMiddleware, or nil
// for anonymous callers
func RequesterFromContext(ctx context.Context) *domain.Requester {
	r, _ := ctx.Value(requesterKey{}).(*domain.Requester)
	return r
}

// CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Session-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware resolves "Authorization: Bearer <token>" against tokens
// (token -> role). Requests without a token continue anonymously; unknown
// tokens are rejected.
func AuthMiddleware(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		role, known := tokens[token]
		if !ok || token == "" || !known {
			failure(c, http.StatusUnauthorized, "invalid or unknown token")
			c.Abort()
			return
		}

		requester := &domain.Requester{
			UserID:    tokenUser(token),
			Role:      role,
			SessionID: c.GetHeader("X-Session-ID"),
		}
		c.Request = c.Request.WithContext(WithRequester(c.Request.Context(), requester))
		c.Next()
	}
}

// tokenUser derives a stable user id without exposing the token
func tokenUser(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token-" + hex.EncodeToString(sum[:6])
}

// RequireRole rejects requests whose requester lacks role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := RequesterFromContext(c.Request.Context())
		if r.Anonymous() {
			failure(c, http.StatusUnauthorized, "authentication required")
			c.Abort()
			return
		}
		if r.Role != role {
			failure(c, http.StatusForbidden, "role "+role+" required")
			c.Abort()
			return
		}
		c.Next()
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// limiterCache hands out one limiter per caller key. Entries are recreated
// after ttl, and expired entries are swept at most once per ttl.
type limiterCache struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters  sync.Map
	mu        sync.Mutex
	lastSweep time.Time
}

func newLimiterCache(limit float64, burst int, ttl time.Duration) *limiterCache {
	lc := &limiterCache{
		limit: rate.Limit(limit),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
	lc.lastSweep = lc.now()
	return lc
}

// RateLimitMiddleware limits each caller, keyed by user id or client IP, to
// limit requests per second with the given burst. Callers idle for longer
// than ttl are forgotten.
func RateLimitMiddleware(limit float64, burst int, ttl time.Duration) gin.HandlerFunc {
	limiters := newLimiterCache(limit, burst, ttl)

	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP()
		if r := RequesterFromContext(c.Request.Context()); !r.Anonymous() {
			key = "user:" + r.UserID
		}

		if !limiters.get(key).Allow() {
			c.Header("Retry-After", "1")
			failure(c, http.StatusTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (lc *limiterCache) get(key string) *rate.Limiter {
	now := lc.now()
	lc.sweep(now)

	if cached, ok := lc.limiters.Load(key); ok {
		entry := cached.(*cachedLimiter)
		if now.Before(entry.expiresAt) {
			return entry.limiter
		}
	}

	limiter := rate.NewLimiter(lc.limit, lc.burst)
	lc.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(lc.ttl),
	})
	return limiter
}

// sweep deletes expired entries unless a sweep ran within the last ttl
func (lc *limiterCache) sweep(now time.Time) {
	lc.mu.Lock()
	if now.Sub(lc.lastSweep) < lc.ttl {
		lc.mu.Unlock()
		return
	}
	lc.lastSweep = now
	lc.mu.Unlock()

	lc.limiters.Range(func(key, value any) bool {
		if !now.Before(value.(*cachedLimiter).expiresAt) {
			lc.limiters.CompareAndDelete(key, value)
		}
		return true
	})
}

func (lc *limiterCache) size() int {
	n := 0
	lc.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
