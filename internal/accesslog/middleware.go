package accesslog

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rennerdo30/nordcfg/internal/logging"
)

// Middleware logs every request to l after the handler returns.
func Middleware(l Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		if _, ok := l.(NoopLogger); ok {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			entry := Entry{
				Timestamp:  start,
				ClientIP:   clientIP(r.RemoteAddr),
				Method:     r.Method,
				Path:       r.URL.Path,
				Protocol:   r.Proto,
				StatusCode: status,
				BytesSent:  ww.BytesWritten(),
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
				RequestID:  logging.RequestID(r.Context()),
				UserAgent:  r.UserAgent(),
				Referer:    r.Referer(),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				entry.Route = rctx.RoutePattern()
			}

			if err := l.Log(entry); err != nil {
				logging.FromContext(r.Context()).Warn("access log write failed", "error", err)
			}
		})
	}
}

func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
