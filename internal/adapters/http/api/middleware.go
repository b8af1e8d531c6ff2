package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/tatami/pkg/logger"
	"github.com/okian/tatami/pkg/metrics"
)

// MetricsMiddleware records request count, latency and error class per endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		status := strconv.Itoa(wrapped.statusCode)

		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if wrapped.statusCode >= http.StatusBadRequest {
			errorType := errorClass(wrapped.statusCode)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
			metrics.RecordErrorByType(errorType, errorSeverity(wrapped.statusCode))
			metrics.RecordErrorLatency("http", errorType, durationMs)
		}
	}
}

// RecoverMiddleware turns a handler panic into a 500 and logs it.
func RecoverMiddleware(next http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error(r.Context(), "handler panicked",
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Any("panic", v),
				)
				metrics.RecordErrorByComponent("http", "panic")
				writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// errorClass buckets a status code for the error metrics.
func errorClass(statusCode int) string {
	switch statusCode {
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_outcome"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if statusCode >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// Conflicts are expected when two devices report the same match.
func errorSeverity(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "high"
	case statusCode == http.StatusConflict, statusCode == http.StatusTooManyRequests:
		return "low"
	default:
		return "medium"
	}
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
