package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/happypulse/pulse-backend/pkg/clientip"
)

// Feed history rate limit: per-IP, different limits for auth vs anonymous.
// Auth: 30 req/min, burst 20. Anonymous: 10 req/min, burst 5.
// Prevents 429 from rapid feed refreshes while blocking abuse.

const (
	feedHistoryAuthRPS    = 0.5 // 30/min
	feedHistoryAuthBurst  = 20
	feedHistoryAnonRPS    = 0.17 // ~10/min
	feedHistoryAnonBurst  = 5
	feedHistoryCleanupMin = 5 * time.Minute
	feedHistoryLimiterTTL = 30 * time.Minute
)

type feedLimiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

var (
	feedHistoryEntries   = make(map[string]*feedLimiterEntry)
	feedHistoryEntriesMu sync.Mutex
	feedHistoryCleanup   bool
)

func getFeedHistoryLimiter(ip string, authenticated bool) *rate.Limiter {
	key := "anon:" + ip
	if authenticated {
		key = "auth:" + ip
	}

	feedHistoryEntriesMu.Lock()
	defer feedHistoryEntriesMu.Unlock()
	startFeedHistoryCleanupOnce()

	e, ok := feedHistoryEntries[key]
	if !ok {
		if authenticated {
			e = &feedLimiterEntry{
				limiter: rate.NewLimiter(rate.Limit(feedHistoryAuthRPS), feedHistoryAuthBurst),
				lastUse: time.Now(),
			}
		} else {
			e = &feedLimiterEntry{
				limiter: rate.NewLimiter(rate.Limit(feedHistoryAnonRPS), feedHistoryAnonBurst),
				lastUse: time.Now(),
			}
		}
		feedHistoryEntries[key] = e
	}
	e.lastUse = time.Now()
	return e.limiter
}

func startFeedHistoryCleanupOnce() {
	if feedHistoryCleanup {
		return
	}
	feedHistoryCleanup = true
	go func() {
		ticker := time.NewTicker(feedHistoryCleanupMin)
		defer ticker.Stop()
		for range ticker.C {
			feedHistoryEntriesMu.Lock()
			now := time.Now()
			for k, e := range feedHistoryEntries {
				if now.Sub(e.lastUse) > feedHistoryLimiterTTL {
					delete(feedHistoryEntries, k)
				}
			}
			feedHistoryEntriesMu.Unlock()
		}
	}()
}

// feedHistoryIsAuthenticated checks for a Bearer token in the Authorization header.
func feedHistoryIsAuthenticated(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && len(strings.TrimPrefix(auth, "Bearer ")) > 0
}

// FeedHistoryRateLimit applies rate limiting only to GET /api/posts.
// Auth: 30/min burst 20. Anonymous: 10/min burst 5. Returns 429 with headers when exceeded.
func FeedHistoryRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/api/posts") {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientip.RealClientIP(r)
		auth := feedHistoryIsAuthenticated(r)
		limiter := getFeedHistoryLimiter(ip, auth)

		if !limiter.Allow() {
			limit := feedHistoryAnonBurst
			if auth {
				limit = feedHistoryAuthBurst
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Too many feed requests. Please slow down."}`))
			return
		}

		limit := feedHistoryAnonBurst
		if auth {
			limit = feedHistoryAuthBurst
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-1)) // Best-effort for debugging
		next.ServeHTTP(w, r)
	})
}
