package web

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a process-wide token bucket in front of upstream-facing routes.
type Limiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewLimiter allows perSecond requests on average with bursts of burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
}

// Middleware rejects requests over the limit with 429 before they reach next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.now()
		res := l.limiter.ReserveN(now, 1)
		if !res.OK() {
			writeError(w, http.StatusTooManyRequests, "Too many requests", 0)
			return
		}

		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			secs := int(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "Too many requests", secs)
			return
		}

		next.ServeHTTP(w, r)
	})
}
