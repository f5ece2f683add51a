package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CredentialLimiter throttles credential-bearing endpoints per client IP.
// A nil *CredentialLimiter lets every request through.
type CredentialLimiter struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCredentialLimiter allows requestsPerMinute per client with a burst of a
// tenth of that. Zero or negative disables throttling.
func NewCredentialLimiter(requestsPerMinute int) *CredentialLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &CredentialLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Handler returns the gin middleware. Rejected requests get 429 with a
// Retry-After hint.
func (l *CredentialLimiter) Handler() gin.HandlerFunc {
	if l == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		now := l.now()
		reservation := l.limiterFor(c.ClientIP(), now).ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

func (l *CredentialLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	for k, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.clients, k)
		}
	}
	return limiter
}
