// middleware/rate_limiter.go
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/HSouheill/agrimarket_backend/models"
)

type endpointLimit struct {
	limit rate.Limit
	burst int
}

type RateLimiter struct {
	ips            map[string]*rate.Limiter
	blockedIPs     map[string]time.Time
	mu             sync.Mutex
	defaultLimit   endpointLimit
	blockDuration  time.Duration
	endpointLimits map[string]endpointLimit
	now            func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		ips:           make(map[string]*rate.Limiter),
		blockedIPs:    make(map[string]time.Time),
		defaultLimit:  endpointLimit{limit: rate.Every(100 * time.Millisecond), burst: 20},
		blockDuration: time.Minute,
		endpointLimits: map[string]endpointLimit{
			// checkout workers redeliver in bursts
			"/api/internal/orders/:id/commissions":          {limit: rate.Every(10 * time.Millisecond), burst: 200},
			"/api/admin/partners/:id/commissions/reconcile": {limit: rate.Every(2 * time.Second), burst: 5},
			"/api/admin/commissions/reprocess":              {limit: rate.Every(10 * time.Second), burst: 2},
		},
		now: time.Now,
	}
}

// Cleanup drops expired blocks until ctx is done.
func (r *RateLimiter) Cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			for key, until := range r.blockedIPs {
				if now.After(until) {
					delete(r.blockedIPs, key)
					delete(r.ips, key)
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			lim, ok := r.endpointLimits[path]
			if !ok {
				lim = r.defaultLimit
			}
			// limiters are per ip and endpoint class
			key := c.RealIP()
			if ok {
				key += " " + path
			}

			r.mu.Lock()
			if until, blocked := r.blockedIPs[key]; blocked {
				if r.now().Before(until) {
					r.mu.Unlock()
					return tooManyRequests(c, until)
				}
				delete(r.blockedIPs, key)
				delete(r.ips, key)
			}
			limiter, exists := r.ips[key]
			if !exists {
				limiter = rate.NewLimiter(lim.limit, lim.burst)
				r.ips[key] = limiter
			}
			if !limiter.Allow() {
				until := r.now().Add(r.blockDuration)
				r.blockedIPs[key] = until
				r.mu.Unlock()
				return tooManyRequests(c, until)
			}
			r.mu.Unlock()

			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, until time.Time) error {
	c.Response().Header().Set("Retry-After", until.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusTooManyRequests, models.Response{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
	})
}
