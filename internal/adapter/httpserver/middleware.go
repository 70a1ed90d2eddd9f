// Package httpserver provides the minimal admin HTTP surface kept outside
// the task/scan domain: health, readiness, and Prometheus metrics. Request
// handling beyond that (book-upload/API business endpoints) is a named
// Non-goal, so this package carries only the ambient middleware chain the
// admin surface needs, grounded on the teacher's own chi-based middleware
// shape but re-implemented over plain net/http.
package httpserver

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// Recoverer ensures panics inside a handler don't crash the process and
// respond 500 instead.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", slog.Any("recover", rec))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type loggerKey struct{}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // weak random is sufficient for request-id entropy

func newRequestID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return id.String()
}

// RequestID injects a ULID-based request id, correlating it with the
// current span's trace/span ids in every log line the handler emits
// (§4.5/§9 "task/job trace identifiers surfaced in logs").
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = newRequestID()
		}
		spanCtx := trace.SpanContextFromContext(r.Context())
		logger := slog.Default().With(
			slog.String("request_id", reqID),
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
		ctx := context.WithValue(r.Context(), loggerKey{}, logger)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TimeoutMiddleware bounds how long a handler may run before the request
// is aborted with 504.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, http.StatusText(http.StatusGatewayTimeout))
	}
}

// SecurityHeaders adds strict headers suitable for a JSON admin surface
// with no browser-facing content.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// LoggerFrom extracts the request-scoped logger RequestID attached to the
// context, falling back to the default logger.
func LoggerFrom(r *http.Request) *slog.Logger {
	if v := r.Context().Value(loggerKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok {
			return lg
		}
	}
	return slog.Default()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one structured line per request, tiered by status code.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		spanCtx := trace.SpanContextFromContext(r.Context())
		lg := LoggerFrom(r)
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration_ms", dur),
			slog.String("request_id", r.Header.Get("X-Request-Id")),
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		}
		switch {
		case sw.status >= 500:
			lg.LogAttrs(r.Context(), slog.LevelError, "http_access", attrs...)
		case sw.status >= 400:
			lg.LogAttrs(r.Context(), slog.LevelWarn, "http_access", attrs...)
		default:
			lg.LogAttrs(r.Context(), slog.LevelInfo, "http_access", attrs...)
		}
	})
}

// Chain applies middleware in the order given, outermost first, matching
// the teacher's chi.Chain call sites elsewhere in its router wiring.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
