package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const (
	requestIDKey        ctxKey = "request_id"
	sessionIDKey        ctxKey = "session_id"
	transientSessionKey ctxKey = "transient_session"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware identifies the shopper's cart by the X-Session-ID header.
// Without one the request id is used and the cart lives for one request
// only: it is neither cached nor persisted.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := r.Header.Get("X-Session-ID")
		if sessionID == "" {
			sessionID = getRequestID(ctx)
			ctx = context.WithValue(ctx, transientSessionKey, true)
		}

		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
		w.Header().Set("X-Session-ID", sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one line per request.
func LoggingMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.WithContext(r.Context()).Info("http request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.String("request_id", getRequestID(r.Context())),
				logger.Any("duration", time.Since(start)))
		})
	}
}

func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func getSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

func isTransientSession(ctx context.Context) bool {
	transient, _ := ctx.Value(transientSessionKey).(bool)
	return transient
}
