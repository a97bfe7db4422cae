package web

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	appLog "pawcal/internal/log"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// accessLog logs method, path, status and duration_ms, raising the level
// with the status class, and feeds the HTTP metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		d := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.RecordHTTPStatus(rec.statusCode)
		s.metrics.RecordRequestLatency(route, d)

		kv := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", float64(d.Nanoseconds()) / float64(time.Millisecond),
		}
		switch {
		case rec.statusCode >= 500:
			appLog.Error("http_request", errors.New(http.StatusText(rec.statusCode)), kv...)
		case rec.statusCode >= 400:
			appLog.Warn("http_request", kv...)
		default:
			appLog.Info("http_request", kv...)
		}
	})
}

// clientLimiter is a per-client token bucket and its last use.
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// downloadLimiter throttles calendar downloads per client address. Idle
// entries are swept lazily on access.
type downloadLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newDownloadLimiter(perMinute, burst int) *downloadLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &downloadLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (dl *downloadLimiter) get(key string) *rate.Limiter {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := dl.now()
	if now.Sub(dl.lastSweep) > dl.ttl {
		for k, c := range dl.clients {
			if now.Sub(c.lastAccess) > dl.ttl {
				delete(dl.clients, k)
			}
		}
		dl.lastSweep = now
	}

	c, ok := dl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(dl.limit, dl.burst)}
		dl.clients[key] = c
	}
	c.lastAccess = now
	return c.limiter
}

func (dl *downloadLimiter) size() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return len(dl.clients)
}

func (dl *downloadLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !dl.get(key).Allow() {
			appLog.Warn("download rate limit exceeded", "client", key)
			writeRateLimited(w, dl.limit)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimited writes 429 with Retry-After set to the seconds until one
// token refills.
func writeRateLimited(w http.ResponseWriter, l rate.Limit) {
	retryAfter := int(math.Ceil(1.0 / float64(l)))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Code:    "RATE_LIMITED",
		Message: "too many downloads, retry later",
	})
}
