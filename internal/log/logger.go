package log

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
)

func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

func WithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// WithValues attaches key/value pairs to the logger carried by ctx.
func WithValues(ctx context.Context, keysAndValues ...interface{}) context.Context {
	return logr.NewContext(ctx, FromContext(ctx).WithValues(keysAndValues...))
}

// Middleware puts logger into every request context.
func Middleware(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logger.WithValues("method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}
