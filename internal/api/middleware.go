package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/util"
)

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-ID"

type middleware func(http.Handler) http.Handler

func chain(mw ...middleware) middleware {
	return func(final http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			final = mw[i](final)
		}
		return final
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := util.NewRequestID()
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Debug("Server.request",
			"request_id", id,
			"method", r.Method,
			"path", redactPath(r.URL.Path),
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Server.recovery: panic in handler", "error", err, "path", redactPath(r.URL.Path))
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// redactPath hides the secret segment of the Telegram webhook path.
func redactPath(p string) string {
	const prefix = "/telegram/"
	if len(p) > len(prefix) && p[:len(prefix)] == prefix {
		return prefix + "***"
	}
	return p
}
