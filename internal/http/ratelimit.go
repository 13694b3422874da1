package http

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds per client limits.
type RateLimiterConfig struct {
	GeneralRate     rate.Limit // requests per second across the API
	GeneralBurst    int
	BookingRate     rate.Limit // requests per second for POST /api/sessions
	BookingBurst    int
	CleanupInterval time.Duration
}

// RateLimiterConfigPerMinute converts per minute budgets into a config. The
// burst equals the per minute budget.
func RateLimiterConfigPerMinute(general, booking int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		BookingRate:     rate.Limit(float64(booking) / 60.0),
		BookingBurst:    booking,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{limit: limit, burst: burst, limiters: make(map[string]*clientLimiter)}
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.limiters[key]; ok {
		cl.lastAccess = now
		return cl.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters[key] = &clientLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

func (s *limiterSet) evictIdle(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter throttles clients by remote address. Booking has its own budget
// on top of the general one.
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterSet
	booking  *limiterSet
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a background goroutine evicting idle clients. Call Stop to end it.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		booking: newLimiterSet(config.BookingRate, config.BookingBurst),
		logger:  defaultLogger(logger),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware applies the API wide budget.
func (rl *RateLimiter) GeneralMiddleware() func(http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// BookingMiddleware applies the booking budget.
func (rl *RateLimiter) BookingMiddleware() func(http.Handler) http.Handler {
	return rl.middleware(rl.booking, "booking")
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(http.Handler) http.Handler {
	responder := newResponder(rl.logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			if !set.get(client, time.Now()).Allow() {
				responder.loggerFor(r.Context()).WarnContext(r.Context(), "rate limit exceeded", "client", client, "limit_type", limitType)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(set.limit)))
				responder.writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{
					ErrorCode: statusCode(http.StatusTooManyRequests),
					Message:   statusMessage(http.StatusTooManyRequests),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops clients idle for more than twice the cleanup interval.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.booking.evictIdle(now, ttl)
}

func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	seconds := int(math.Ceil(1.0 / float64(limit)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
