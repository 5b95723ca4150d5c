package middleware

import (
	"math"
	"strconv"
	"time"

	"rehearsal/pkg/config"
	apperrors "rehearsal/pkg/errors"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-IP limiter store; the least recently
// seen address is forgotten first.
const maxTrackedClients = 4096

type limiterStore struct {
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newLimiterStore(r rate.Limit, burst int) *limiterStore {
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &limiterStore{limiters: cache, rate: r, burst: burst}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(s.rate, s.burst)
	if prev, ok, _ := s.limiters.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

func abortWith(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error":   string(err.Code),
		"message": err.Message,
	})
}

func retryAfter(l *rate.Limiter) string {
	seconds := math.Ceil(1 / float64(l.Limit()))
	if math.IsInf(seconds, 0) || seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(int(seconds))
}

// concurrency returns a semaphore, or nil when n is not positive.
func concurrency(n int) chan struct{} {
	if n <= 0 {
		return nil
	}
	return make(chan struct{}, n)
}

// NewHTTPRateLimitMiddleware limits REST requests per client IP and,
// optionally, in flight overall.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	store := newLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)
	sem := concurrency(cfg.RateLimiting.HTTP.MaxConcurrent)

	return func(c *gin.Context) {
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				abortWith(c, apperrors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		limiter := store.get(c.ClientIP())
		if !limiter.Allow() {
			c.Header("Retry-After", retryAfter(limiter))
			abortWith(c, apperrors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// NewWebSocketRateLimitMiddleware limits dashboard connection attempts per
// client IP and the number of dashboards connected at once.
func NewWebSocketRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
	store := newLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	sem := concurrency(cfg.RateLimiting.WebSocket.MaxConcurrent)

	return func(c *gin.Context) {
		if !store.get(c.ClientIP()).Allow() {
			abortWith(c, apperrors.NewRateLimitError())
			return
		}
		if sem != nil {
			select {
			case sem <- struct{}{}:
				// Held for the life of the websocket; the handler blocks
				// until the dashboard disconnects.
				defer func() { <-sem }()
			default:
				abortWith(c, apperrors.NewServiceUnavailableError("too many dashboards connected"))
				return
			}
		}
		c.Next()
	}
}
