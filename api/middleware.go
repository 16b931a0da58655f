package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ulule/limiter/v3"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	actorKey  contextKey = "actor"
)

// ActorHeader carries the opaque identity of the user performing a mutation.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// LOGGING
// =============================================================================

// RequestLogger injects a request-scoped logger into the context and logs
// each completed request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := base.With(
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := context.WithValue(r.Context(), loggerKey, reqLogger)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("Request completed",
				slog.Int("status", ww.Status()),
				slog.Duration("latency", time.Since(start)),
			)
		})
	}
}

// LoggerFrom returns the request-scoped logger, or the default logger
// outside a request.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// =============================================================================
// ACTOR
// =============================================================================

// RequireActor rejects mutating requests without an X-Actor-ID header and
// stores the actor in the context for handlers.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if actor == "" {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error: ActorHeader + " header is required",
					Code:  "validation",
					Field: "actor",
				})
				return
			}
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) string {
	actor, _ := r.Context().Value(actorKey).(string)
	return actor
}

// =============================================================================
// RATE LIMIT
// =============================================================================

// RateLimit limits requests per client IP with the given limiter. The
// limiter is built by the caller so each server (and each test) owns its
// own bucket state.
func RateLimit(l *limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.GetIPKey(r)
			lctx, err := l.Get(r.Context(), key)
			if err != nil {
				LoggerFrom(r.Context()).Error("Failed to get rate limit context", slog.String("ip", key), slog.String("error", err.Error()))
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error during rate limit check", Code: "internal"})
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", itoa(lctx.Limit))
			h.Set("X-RateLimit-Remaining", itoa(lctx.Remaining))
			h.Set("X-RateLimit-Reset", itoa(lctx.Reset))

			if lctx.Reached {
				LoggerFrom(r.Context()).Warn("Rate limit exceeded", slog.String("ip", key), slog.Int64("limit", lctx.Limit))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests, please try again later", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
