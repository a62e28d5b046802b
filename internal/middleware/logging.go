package middleware

import (
	"net/http"
	"time"

	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// quietPaths are polled by infrastructure and logged at debug level
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// LoggingMiddleware writes one structured access log entry per request
// Level follows the status: 5xx error, 4xx warn, everything else info
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("HTTP")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			reqLog := log.WithRequestID(middleware.GetReqID(r.Context()))
			event := reqLog.Info()
			switch {
			case status >= 500:
				event = reqLog.Error()
			case status >= 400:
				event = reqLog.Warn()
			case quietPaths[r.URL.Path]:
				event = reqLog.Debug()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Str("remote_ip", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration_ms", time.Since(start)).
				Msg("Request completed")
		})
	}
}
