package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"appbridge/pkg/logger"
	"appbridge/pkg/store"
)

// limiterPool keeps one token bucket per remote IP.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lim, ok := p.limiters[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(p.rps, p.burst)
	p.limiters[key] = lim
	return lim
}

// RateLimit rejects callers exceeding rps (with burst headroom) per
// remote IP with 429. rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := &limiterPool{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !pool.get(host).Allow() {
				logger.Warn("rate_limited", "remote", host, "path", r.URL.Path)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status and byte count written through a
// ResponseWriter.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Record logs each request and, when the store is open, persists an
// access record tagged with the adapter that served it.
func Record(adapter string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)
			rec := &statusRecorder{ResponseWriter: w}
			begin := time.Now()
			next.ServeHTTP(rec, r)

			if !store.Ready() {
				return
			}
			in := r.ContentLength
			if in < 0 {
				in = 0
			}
			err := store.SaveRecord(store.Record{
				Time:     begin.UTC(),
				Adapter:  adapter,
				Method:   r.Method,
				Path:     r.URL.Path,
				Status:   rec.status,
				BytesIn:  in,
				BytesOut: rec.bytes,
				Duration: time.Since(begin).Milliseconds(),
			})
			if err != nil {
				logger.Warn("access_record_failed", "error", err)
			}
		})
	}
}
