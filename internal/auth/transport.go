package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/99designs/gqlgen/graphql/handler/transport"
)

const bearerPrefix = "bearer "

// ParseAuthorization extracts the credential of an Authorization value.
// Values without the Bearer scheme are returned untouched so that they
// fail verification instead of being ignored.
func ParseAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(value[len(bearerPrefix):])
	}
	return value
}

// Middleware copies the Authorization header into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if credential := ParseAuthorization(r.Header.Get("Authorization")); credential != "" {
			r = r.WithContext(WithCredential(r.Context(), credential))
		}
		next.ServeHTTP(w, r)
	})
}

// WebsocketInit takes the credential from the connection_init payload. It
// wins over the header of the upgrade request.
func WebsocketInit(ctx context.Context, initPayload transport.InitPayload) (context.Context, *transport.InitPayload, error) {
	if credential := ParseAuthorization(initPayload.Authorization()); credential != "" {
		ctx = WithCredential(ctx, credential)
	}
	return ctx, nil, nil
}
