package app

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/ipfilter"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// RealIP applies chi's forwarding-header rewrite of RemoteAddr only when the
// peer is a trusted proxy. Other requests keep their socket address.
func RealIP(trusted ipfilter.Proxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trusted.Trusts(r.RemoteAddr) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests with structured fields.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("request_id", apperrors.GetRequestID(r.Context())).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Error().
					Interface("error", err).
					Str("request_id", apperrors.GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				apperrors.WriteInternalError(w, r, "Internal server error", fmt.Errorf("panic: %v", err))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// ContentTypeJSON sets Content-Type to application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// MaxBytesMiddleware rejects bodies declared larger than limit and caps the
// rest while they are read.
func MaxBytesMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				apperrors.WritePayloadTooLarge(w, r, "Request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per client IP. Rejections are counted under name.
func RateLimit(name string, requests int, window time.Duration, m *metrics.Metrics) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.IncRateLimitRejection(name)
			log.Warn().
				Str("limiter", name).
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", retryAfter)
			apperrors.WriteTooManyRequests(w, r, "Too many requests. Try again later.")
		}),
	)
}

// GlobalRateLimit is 500 requests per 15 minutes.
func GlobalRateLimit(m *metrics.Metrics) func(http.Handler) http.Handler {
	return RateLimit("global", 500, 15*time.Minute, m)
}

// AuthRateLimit is 10 requests per hour for account creation and login.
func AuthRateLimit(m *metrics.Metrics) func(http.Handler) http.Handler {
	return RateLimit("auth", 10, time.Hour, m)
}

// APIRateLimit is 100 requests per 15 minutes for organization and task routes.
func APIRateLimit(m *metrics.Metrics) func(http.Handler) http.Handler {
	return RateLimit("api", 100, 15*time.Minute, m)
}

// EmailRateLimit is 5 requests per hour for routes that send email.
func EmailRateLimit(m *metrics.Metrics) func(http.Handler) http.Handler {
	return RateLimit("email", 5, time.Hour, m)
}
