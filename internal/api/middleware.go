package api

import (
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"aadhaar-velocity/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	totpHeader      = "X-TOTP-Code"
)

// RequestID takes the caller's X-Request-ID or mints one, echoes it back
// and stores it as the request's trace ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Ctx(r.Context(), log).Debug()
			if status >= http.StatusInternalServerError {
				ev = logger.Ctx(r.Context(), log).Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}

// Recoverer turns a handler panic into a 500 and logs the stack.
func Recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Ctx(r.Context(), log).Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("handler panic")
					writeError(w, r, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a token bucket shared by every caller of the routes it
// wraps.
type RateLimiter struct {
	limiter    *rate.Limiter
	retryAfter string
	log        zerolog.Logger

	// Rejected counts 429 responses when set.
	Rejected prometheus.Counter
}

// NewRateLimiter allows rps requests per second with the given burst. A
// non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int, log zerolog.Logger) *RateLimiter {
	limit := rate.Inf
	retry := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		retry = int(math.Max(1, math.Ceil(1/rps)))
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(limit, burst),
		retryAfter: strconv.Itoa(retry),
		log:        log,
	}
}

// Allow takes a token, counting the rejection when none is left.
func (rl *RateLimiter) Allow() bool {
	if rl.limiter.Allow() {
		return true
	}
	if rl.Rejected != nil {
		rl.Rejected.Inc()
	}
	return false
}

// Handler rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			logger.Ctx(r.Context(), rl.log).Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", rl.retryAfter)
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TOTPGuard requires a current code for secret in X-TOTP-Code. An empty
// secret lets every request through.
func TOTPGuard(secret string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.Header.Get(totpHeader)
			if code == "" || !totp.Validate(code, secret) {
				logger.Ctx(r.Context(), log).Warn().
					Str("path", r.URL.Path).
					Bool("code_present", code != "").
					Msg("definition write rejected")
				writeError(w, r, http.StatusUnauthorized, "missing or invalid "+totpHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
