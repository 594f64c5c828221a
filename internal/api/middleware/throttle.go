package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const throttleIdleTTL = 5 * time.Minute

// IPThrottle 按客户端 IP 的令牌桶限流，用于公开的认证接口。
type IPThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewIPThrottle(perSecond float64, burst int) *IPThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &IPThrottle{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow 消耗 ip 对应桶中的一个令牌。
func (t *IPThrottle) Allow(ip string) bool {
	if ip == "" {
		ip = "unknown"
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) > time.Minute {
		for k, b := range t.buckets {
			if now.Sub(b.seen) > throttleIdleTTL {
				delete(t.buckets, k)
			}
		}
		t.lastSweep = now
	}

	b, ok := t.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware 超出速率时返回 429。
func (t *IPThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
