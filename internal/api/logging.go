package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code and
// number of bytes written. The standard ResponseWriter does not expose these
// values after the handler returns.
type responseWriter struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter, allowing middleware further
// down the chain to access the original writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger logs every HTTP request twice with structured slog output:
// once on arrival, with the request body when one is present, and once on
// completion with status, duration, and sizes. The completion level depends
// on the status code: 2xx/3xx Info, 4xx Warn, 5xx Error.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := LoggerFromContext(r.Context())

		// Snapshot the body for the arrival log; handlers read it again.
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_address", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
			slog.String("request_uri", r.RequestURI),
		}
		if len(body) > 0 {
			attrs = append(attrs, slog.String("body", string(body)))
		}
		logger.LogAttrs(r.Context(), slog.LevelInfo, "api request", attrs...)

		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			status:         http.StatusOK, // default if handler never calls WriteHeader
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		done := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.status),
			slog.String("duration", duration.String()),
			slog.Int("request_size", len(body)),
			slog.Int("response_size", wrapped.bytesWritten),
		}

		msg := "request completed"
		switch {
		case wrapped.status >= 500:
			logger.LogAttrs(r.Context(), slog.LevelError, msg, done...)
		case wrapped.status >= 400:
			logger.LogAttrs(r.Context(), slog.LevelWarn, msg, done...)
		default:
			logger.LogAttrs(r.Context(), slog.LevelInfo, msg, done...)
		}
	})
}
