package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hamletsspeak/812Hamur/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched
// with the correlation ID and, once Auth has run, the session's user ID.
// Handlers and httputil retrieve it with logger.FromContext. Mounted
// globally after RequestLogging and again inside authenticated route
// groups so the user ID is picked up.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
