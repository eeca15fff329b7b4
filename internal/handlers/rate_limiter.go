package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/foodcourt/api/internal/platform/httpx"
)

// callerLimiter gives every caller a token bucket holding limit tokens that refills over window.
type callerLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	callers map[string]*callerBucket
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(limit int, window time.Duration, clock func() time.Time) *callerLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &callerLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clock:   clock,
		callers: map[string]*callerBucket{},
	}
}

// Allow takes a token for key. When none is left it reports how long until one is.
func (l *callerLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.callers[key]
	if !ok {
		l.forgetIdle(now)
		bucket = &callerBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.callers[key] = bucket
	}
	bucket.lastSeen = now

	res := bucket.limiter.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// forgetIdle drops callers whose bucket has refilled completely; a new bucket behaves the same.
func (l *callerLimiter) forgetIdle(now time.Time) {
	for key, bucket := range l.callers {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.callers, key)
		}
	}
}

// rateLimit answers 429 with Retry-After once the authenticated caller runs out of tokens.
func rateLimit(limiter *callerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := principalFrom(r.Context())
			if ok, wait := limiter.Allow(principal.UserID); !ok {
				seconds := max(1, int(wait.Round(time.Second)/time.Second))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
