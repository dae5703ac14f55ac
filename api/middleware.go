package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/warp/rate-engine/payroll"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	callerKey
)

// Caller identity headers, set by the auth layer in front of this service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserAdmin = "X-User-Admin"
	HeaderRequestID = "X-Request-ID"
)

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// RequestLogger puts a request-scoped logger in the context and logs one
// line per completed request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			logger := base.With(
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			ctx := context.WithValue(r.Context(), loggerKey, logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "request completed",
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("latency", time.Since(start)),
			)
		})
	}
}

// LoggerFromContext returns the request logger, or slog.Default() outside a
// request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// RateLimit limits requests per client IP with an in-memory ulule store.
// formatted uses the limiter syntax, e.g. "300-M".
func RateLimit(formatted string) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := instance.GetIPKey(r)
			lctx, err := instance.Get(r.Context(), ip)
			if err != nil {
				LoggerFromContext(r.Context()).Error("rate limiter failure", "error", err)
				writeError(w, http.StatusInternalServerError, "Rate limiter failure", err)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

			if lctx.Reached {
				LoggerFromContext(r.Context()).Warn("rate limit exceeded", "ip", ip)
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// =============================================================================
// CALLER IDENTITY
// =============================================================================

// RequireCaller reads the caller from the identity headers. Requests
// without a valid X-User-ID are rejected with 401.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "Missing or invalid "+HeaderUserID, nil)
			return
		}
		admin, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderUserAdmin)))

		caller := payroll.Caller{UserID: payroll.UserID(id), IsAdmin: admin}
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) payroll.Caller {
	c, _ := ctx.Value(callerKey).(payroll.Caller)
	return c
}

// RequireAdmin refuses callers without the admin flag. It must run after
// RequireCaller.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r.Context()).IsAdmin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error:  "Admin access required",
				Reason: string(payroll.ForbidMissingPermission),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
